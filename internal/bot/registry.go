package bot

import (
	"context"
	"sort"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/pipeline"
)

// Request is what a command handler receives: the resolved pipeline context
// plus the message that triggered the command.
type Request struct {
	*pipeline.Context
	Message *api.Message
	Lang    string
}

// HandlerFunc executes one command. A non-empty reply is sent by the
// dispatcher; an empty reply with nil error means the handler responded on
// its own or intentionally stayed silent.
type HandlerFunc func(ctx context.Context, req *Request) (reply string, err error)

// Command is one registry entry: handler, gate requirements and budget scope.
type Command struct {
	Name           string
	Description    string
	Handler        HandlerFunc
	RequiredTier   permissions.Tier
	RateScope      string
	SkipSpamCheck  bool
	SkipPermission bool
	Timeout        time.Duration
}

// Registry is the static command table. It is built and validated once at
// startup; reads after Freeze need no locking.
type Registry struct {
	commands map[string]*Command
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{commands: map[string]*Command{}}
}

func (r *Registry) Register(cmd *Command) error {
	if r.frozen {
		return errors.New("registry is frozen")
	}
	if cmd == nil || cmd.Name == "" {
		return errors.New("command must have a name")
	}
	if _, exists := r.commands[cmd.Name]; exists {
		return errors.Errorf("command %q registered twice", cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Validate checks completeness before the bot starts serving traffic.
func (r *Registry) Validate() error {
	for name, cmd := range r.commands {
		if cmd.Handler == nil {
			return errors.Errorf("command %q has no handler", name)
		}
		if cmd.RateScope == "" {
			return errors.Errorf("command %q has no rate scope", name)
		}
		if cmd.RequiredTier < permissions.TierMember || cmd.RequiredTier > permissions.TierOwner {
			return errors.Errorf("command %q has an invalid tier", name)
		}
	}
	return nil
}

func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Get(name string) (*Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

func (r *Registry) List() []*Command {
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
