package wa

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrInvalidRecipient is returned when a recipient cannot be turned into a JID.
var ErrInvalidRecipient = errors.New("invalid recipient")

// ParseRecipient accepts a phone number in any common notation or a full JID.
func ParseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.EmptyJID, fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
		}
		return jid, nil
	}

	var digits strings.Builder
	for _, r := range to {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
		}
	}
	if digits.Len() < 5 {
		return types.EmptyJID, fmt.Errorf("%w: %q is too short", ErrInvalidRecipient, to)
	}
	return types.NewJID(digits.String(), types.DefaultUserServer), nil
}
