package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/google/uuid"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// refresh returns the access token to replay with after staleToken was
// rejected. Concurrent callers holding the same stale token share one
// exchange with the backend.
func (c *Client) refresh(ctx context.Context, staleToken string) (string, error) {
	ch := c.refreshes.DoChan(staleToken, func() (any, error) {
		// Detached so that a cancelled waiter doesn't abort the exchange for
		// the others.
		return c.doRefresh(context.WithoutCancel(ctx), staleToken)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) doRefresh(ctx context.Context, staleToken string) (string, error) {
	cur, err := c.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("apiclient: load session: %w", err)
	}
	if cur == nil {
		// Cleared while we were waiting: logout or a failed refresh that
		// already notified subscribers.
		return "", &RefreshError{Err: sessions.ErrNoSession}
	}
	if cur.AccessToken != staleToken {
		// A previous flight already stored a new token.
		c.metrics.observeRefresh(refreshCoalesced)
		return cur.AccessToken, nil
	}

	token, err := c.exchange(ctx, cur.RefreshToken)
	if err == nil {
		err = c.store.SetAccessToken(ctx, token)
		if errors.Is(err, sessions.ErrNoSession) {
			return "", &RefreshError{Err: err}
		}
	}
	if err != nil {
		rerr := &RefreshError{Err: err}
		c.metrics.observeRefresh(refreshFailure)
		c.log.WarnContext(ctx, "client.refresh.fail", slog.String("err", err.Error()))
		c.invalidate(ctx, rerr)
		return "", rerr
	}

	c.metrics.observeRefresh(refreshSuccess)
	c.log.InfoContext(ctx, "client.refresh.ok")
	return token, nil
}

// exchange trades a refresh token for a new access token.
func (c *Client) exchange(ctx context.Context, refreshToken string) (string, error) {
	req, err := NewRequest(http.MethodPost, c.refreshPath, nil, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, req, "", uuid.NewString())
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newHTTPError(req, resp)
	}
	var out refreshResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("apiclient: refresh response has no access_token")
	}
	return out.AccessToken, nil
}
