package skywatcher

// dispatcher composes frames and classifies replies. It delegates the
// actual I/O, timeout, and retry behavior to a Transport. A dispatcher is
// not re-entrant: callers (the Driver) must serialize all calls into it.
type dispatcher struct {
	transport *Transport
}

func newDispatcher(t *Transport) *dispatcher {
	return &dispatcher{transport: t}
}

// getFeaturesCmd is the one command that must not be retried on reply
// error (SPEC_FULL.md / spec.md §4.2 exception).
const getFeaturesCmd = 'q'

// exchange sends one command and classifies the reply: a '=' payload is
// validated and returned (without the leading '='); a '!' payload raises
// CmdFailedError with the error code preserved; anything else raises
// InvalidCmdError.
func (d *dispatcher) exchange(cmd byte, axis Axis, arg string) (string, error) {
	noRetry := cmd == getFeaturesCmd
	reply, err := d.transport.Exchange(cmd, axis, arg, noRetry)
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", &InvalidCmdError{Cmd: cmd, Axis: axis, Reply: reply}
	}
	switch reply[0] {
	case '=':
		payload := reply[1:]
		if err := validateHexPayload(payload); err != nil {
			return "", &InvalidCmdError{Cmd: cmd, Axis: axis, Reply: reply}
		}
		return payload, nil
	case '!':
		code := byte(0)
		if len(reply) > 1 {
			code = reply[1]
		}
		return "", &CmdFailedError{Cmd: cmd, Axis: axis, Code: code}
	default:
		return "", &InvalidCmdError{Cmd: cmd, Axis: axis, Reply: reply}
	}
}

// validateHexPayload rejects any character that is not an uppercase hex
// digit, matching the protocol's reply-validation rule.
func validateHexPayload(s string) error {
	for i := 0; i < len(s); i++ {
		c := s[i]
		isHex := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
		if !isHex {
			return invalidParameterf("payload %q contains a non-hex or lowercase character", s)
		}
	}
	return nil
}
