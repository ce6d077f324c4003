package core

import (
	"strconv"
	"strings"

	"github.com/rushrushgogogo/skynet/internal/message"
)

// Command executes a text command on behalf of ctx, synchronously on the
// calling worker. The result is a short string, empty for "nothing"; unknown
// command names yield nothing silently.
func (s *System) Command(ctx *Context, cmd, param string) string {
	switch cmd {
	case "TIMEOUT":
		return s.cmdTimeout(ctx, param)
	case "REG":
		return s.cmdReg(ctx, param)
	case "NAME":
		return s.cmdName(ctx, param)
	case "NOW":
		return strconv.FormatUint(uint64(s.timer.Now()), 10)
	case "STARTTIME":
		return strconv.FormatUint(uint64(s.timer.StartTime()), 10)
	case "EXIT":
		s.registry.Retire(ctx.handle)
		return ""
	case "KILL":
		return s.cmdKill(ctx, param)
	case "LAUNCH":
		return s.cmdLaunch(ctx, param)
	case "GETENV":
		return s.env.Get(param)
	case "SETENV":
		return s.cmdSetEnv(param)
	case "GROUP":
		return s.cmdGroup(ctx, param)
	}
	return ""
}

// Command executes a text command from this context.
func (c *Context) Command(cmd, param string) string {
	return c.system.Command(c, cmd, param)
}

func (s *System) cmdTimeout(ctx *Context, param string) string {
	ticks := leadingInt(param)
	session := ctx.NewSession()
	s.timer.Timeout(ctx.handle, ticks, session)
	return strconv.FormatInt(int64(session), 10)
}

func (s *System) cmdReg(ctx *Context, param string) string {
	switch {
	case param == "":
		return IDToHex(ctx.handle)
	case param[0] == '.':
		name, ok := s.registry.NameHandle(ctx.handle, param[1:])
		if !ok {
			return ""
		}
		return name
	default:
		rname := message.RemoteName{Name: globalName(param), Handle: ctx.handle}
		if err := s.harbor.Register(rname); err != nil {
			s.errorf(ctx, "register global name failed", "name", param, "err", err)
		}
		return ""
	}
}

func (s *System) cmdName(ctx *Context, param string) string {
	name, addr, ok := strings.Cut(param, " ")
	if !ok || len(addr) == 0 || addr[0] != ':' {
		return ""
	}
	handle := ParseHex(addr[1:])
	if handle == 0 {
		return ""
	}
	if name != "" && name[0] == '.' {
		bound, ok := s.registry.NameHandle(handle, name[1:])
		if !ok {
			return ""
		}
		return bound
	}
	rname := message.RemoteName{Name: globalName(name), Handle: handle}
	if err := s.harbor.Register(rname); err != nil {
		s.errorf(ctx, "register global name failed", "name", name, "err", err)
	}
	return ""
}

func (s *System) cmdKill(ctx *Context, param string) string {
	var handle message.Handle
	switch {
	case param == "":
		return ""
	case param[0] == ':':
		handle = ParseHex(param[1:])
	case param[0] == '.':
		handle = s.registry.FindName(param[1:])
	default:
		// Harbor-routed kill would need a cross-node control channel the
		// harbor contract does not define; reject loudly instead.
		s.errorf(ctx, "kill by global name rejected", "target", param)
		return ""
	}
	if handle != 0 {
		s.registry.Retire(handle)
	}
	return ""
}

func (s *System) cmdLaunch(ctx *Context, param string) string {
	mod, args := splitLaunch(param)
	if mod == "" {
		return ""
	}
	inst, err := s.Launch(mod, args)
	if err != nil || inst == nil {
		s.errorf(ctx, "launch failed", "module", mod, "args", args, "err", err)
		return ""
	}
	s.logger.Info("launch", "module", mod, "args", args, "handle", IDToHex(inst.handle))
	return IDToHex(inst.handle)
}

func (s *System) cmdSetEnv(param string) string {
	key, value, ok := strings.Cut(param, " ")
	if !ok {
		return ""
	}
	s.env.Set(key, value)
	return ""
}

func (s *System) cmdGroup(ctx *Context, param string) string {
	fields := strings.Fields(param)
	if len(fields) < 2 {
		return ""
	}
	op := fields[0]
	group, err := strconv.Atoi(fields[1])
	if err != nil {
		return ""
	}
	var addr message.Handle
	if len(fields) >= 3 && fields[2][0] == ':' {
		addr = ParseHex(fields[2][1:])
	}

	self := ctx.handle
	if addr != 0 {
		if s.harbor.IsRemote(addr) {
			s.errorf(ctx, "can't group a remote handle", "handle", IDToHex(addr))
			return ""
		}
		self = addr
	}

	switch op {
	case "ENTER":
		if err := s.groups.Enter(group, self); err != nil {
			s.errorf(ctx, "group enter failed", "group", group, "err", err)
		}
	case "LEAVE":
		if err := s.groups.Leave(group, self); err != nil {
			s.errorf(ctx, "group leave failed", "group", group, "err", err)
		}
	case "QUERY":
		agent, err := s.groups.Query(group)
		if err != nil || agent == 0 {
			return ""
		}
		return IDToHex(agent)
	case "CLEAR":
		if err := s.groups.Clear(group); err != nil {
			s.errorf(ctx, "group clear failed", "group", group, "err", err)
		}
	}
	return ""
}

// globalName pins a name to the fixed harbor width.
func globalName(name string) string {
	if len(name) > message.GlobalNameLength {
		return name[:message.GlobalNameLength]
	}
	return name
}

// leadingInt parses the leading decimal of s, ignoring anything after it.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	n := 0
	i := 0
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}

// splitLaunch separates the module token from its argument string, which
// runs to the end of the line.
func splitLaunch(param string) (mod, args string) {
	param = strings.TrimLeft(param, " \t")
	i := strings.IndexAny(param, " \t\r\n")
	if i < 0 {
		return param, ""
	}
	mod = param[:i]
	args = strings.TrimLeft(param[i+1:], " \t")
	if j := strings.IndexAny(args, "\r\n"); j >= 0 {
		args = args[:j]
	}
	return mod, args
}
