package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"partyline/internal/relay"
	"partyline/util"
)

// Chat relays every plain line to the other participants as
// "<identity> text" and answers a few dot commands locally.
type Chat struct {
	Party  Party // set once the relay exists
	Logger *util.Logger
}

type command struct {
	usage string
	run   func(c *Chat, ev relay.ChatMessageEvent, args string)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		".who": {
			usage: ".who              list the people on the party line",
			run: func(c *Chat, ev relay.ChatMessageEvent, _ string) {
				ids := c.Party.Identities()
				c.reply(ev, fmt.Sprintf("On the party line (%d): %s", len(ids), strings.Join(ids, ", ")))
			},
		},
		".me": {
			usage: ".me <action>      describe an action",
			run: func(c *Chat, ev relay.ChatMessageEvent, args string) {
				if args == "" {
					c.reply(ev, "usage: .me <action>")
					return
				}
				c.Party.BroadcastExcept(ev.Session, fmt.Sprintf("* %s %s", ev.Identity, args))
			},
		},
		".ops": {
			usage: ".ops <text>       notify everyone allowed to receive announcements",
			run: func(c *Chat, ev relay.ChatMessageEvent, args string) {
				if args == "" {
					c.reply(ev, "usage: .ops <text>")
					return
				}
				n := c.Party.Broadcast(fmt.Sprintf("[ops] <%s> %s", ev.Identity, args), true)
				c.logger().Verbose("%s: ops notice reached %d", ev.Identity, n)
				c.reply(ev, fmt.Sprintf("Notice delivered to %d operator(s)", n))
			},
		},
		".help": {
			usage: ".help             show this list",
			run: func(c *Chat, ev relay.ChatMessageEvent, _ string) {
				names := make([]string, 0, len(commands)+1)
				for name := range commands {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					c.reply(ev, commands[name].usage)
				}
				c.reply(ev, ".exit             leave the party line")
			},
		},
	}
}

// Handle implements relay.Handler.
func (c *Chat) Handle(ctx context.Context, ev relay.ChatMessageEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, ".") {
		name, args, _ := strings.Cut(text, " ")
		cmd, ok := commands[strings.ToLower(name)]
		if !ok {
			c.reply(ev, fmt.Sprintf("Unknown command %s; try .help", name))
			return
		}
		cmd.run(c, ev, strings.TrimSpace(args))
		return
	}

	n := c.Party.BroadcastExcept(ev.Session, fmt.Sprintf("<%s> %s", ev.Identity, ev.Text))
	c.logger().Debug("%s: relayed to %d", ev.Identity, n)
}

func (c *Chat) reply(ev relay.ChatMessageEvent, line string) {
	if err := ev.Reply(line); err != nil {
		c.logger().Verbose("reply to %s: %v", ev.Identity, err)
	}
}

var quiet = util.NewLogger(0)

func (c *Chat) logger() *util.Logger {
	if c.Logger == nil {
		return quiet
	}
	return c.Logger
}
