// Package mailer implements nodes.SmtpClient over net/smtp, mirroring
// the constructor+Send shape of the teacher's internal/pkg/email
// service.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
)

type Client struct {
	addr string
	auth smtp.Auth
	from string
}

func New(host string, port int, username, password, from string) *Client {
	addr := fmt.Sprintf("%s:%d", host, port)
	return &Client{addr: addr, auth: smtp.PlainAuth("", username, password, host), from: from}
}

func (c *Client) Send(ctx context.Context, to []string, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", c.from, joinAddrs(to), subject, body)
	return smtp.SendMail(c.addr, c.auth, c.from, to, []byte(msg))
}

func joinAddrs(to []string) string {
	out := ""
	for i, a := range to {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
