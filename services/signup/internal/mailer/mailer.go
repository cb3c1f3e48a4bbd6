package mailer

import (
	"context"
	"fmt"
	"strings"
)

type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Email)
}

// Message is a rendered email. Text and HTML are alternative bodies.
type Message struct {
	From    Address
	To      Address
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ObfuscateAddress keeps the first keep characters of the local part and
// masks the rest, e.g. some*****@example.com. Local parts no longer than keep
// are returned unmasked. Input without an @ is returned as is.
func ObfuscateAddress(addr string, keep int) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return addr
	}
	if keep < 0 {
		keep = 0
	}
	if len(local) > keep {
		return local[:keep] + "*****@" + domain
	}
	return local + "@" + domain
}
