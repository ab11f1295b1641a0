package max

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CodePrompt asks the operator for the SMS code MAX sent to the phone.
type CodePrompt func(ctx context.Context) (string, error)

type authRequestReply struct {
	Token string `json:"token"`
}

type authReply struct {
	TokenAttrs struct {
		Login struct {
			Token string `json:"token"`
		} `json:"LOGIN"`
	} `json:"tokenAttrs"`
}

// Login runs the interactive SMS-code flow on a dedicated connection and
// stores the resulting token. Run picks it up on the next session.
func (c *Client) Login(ctx context.Context, prompt CodePrompt) error {
	sess, err := c.cfg.Sessions.Load(ctx, c.cfg.Phone)
	if err != nil {
		return err
	}

	cn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer c.detach(cn)

	if err := c.handshake(ctx, cn, sess.DeviceID); err != nil {
		return err
	}

	var started authRequestReply
	if err := cn.request(ctx, OpAuthRequest, map[string]any{
		"phone":    c.cfg.Phone,
		"type":     "START_AUTH",
		"language": "ru",
	}, &started, c.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("request code: %w", err)
	}
	if started.Token == "" {
		return errors.New("request code: server returned no verification token")
	}

	code, err := prompt(ctx)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("empty verification code")
	}

	var confirmed authReply
	if err := cn.request(ctx, OpAuth, map[string]any{
		"token":         started.Token,
		"verifyCode":    code,
		"authTokenType": "CHECK_CODE",
	}, &confirmed, c.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("verify code: %w", err)
	}
	token := confirmed.TokenAttrs.Login.Token
	if token == "" {
		return errors.New("verify code: server returned no login token")
	}

	if err := c.cfg.Sessions.SaveToken(ctx, c.cfg.Phone, token); err != nil {
		return err
	}
	c.logger.Info("max login complete", "phone", maskPhone(c.cfg.Phone))
	return nil
}
