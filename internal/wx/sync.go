package wx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrSyncCheckFailed is returned when the long-poll body cannot be parsed.
var ErrSyncCheckFailed = errors.New("unparseable synccheck response")

// Selector values returned by SyncCheck.
const (
	SelectorNone    = "0"
	SelectorContact = "2"
)

// SyncCheck long-polls for changes using the current cursor. It returns the
// status code and change selector.
func (c *Client) SyncCheck(ctx context.Context) (retcode, selector string, err error) {
	var s Session
	c.update(func(cur *Session) {
		cur.LoginTime++
		s = *cur
	})
	params := url.Values{
		"r":        {itoa(nowMillis())},
		"skey":     {s.Skey},
		"sid":      {s.Sid},
		"uin":      {s.Uin},
		"deviceid": {s.DeviceID},
		"synckey":  {s.SyncCheckKey},
		"_":        {itoa(s.LoginTime)},
	}
	body, _, err := c.do(ctx, request{
		url:      s.syncURL() + "/synccheck",
		params:   params,
		timeout:  c.opts.PollTimeout,
		redirect: true,
	})
	if err != nil {
		if isMalformedResponse(err) {
			c.logger.Debug("synccheck status line broken, treating as contact change", zap.Error(err))
			return "0", SelectorContact, nil
		}
		return "", "", err
	}
	retcode, selector, ok := parseSyncCheck(string(body))
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrSyncCheckFailed, truncate(string(body), 120))
	}
	return retcode, selector, nil
}

// SyncResult carries the messages and contact deltas of one sync call.
type SyncResult struct {
	Messages []RawMessage
	Contacts []RawContact
}

// Sync fetches new messages and contact deltas and advances the cursor. It
// returns nil when the service rejects the call.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	s := c.Session()
	params := url.Values{
		"sid":         {s.Sid},
		"skey":        {s.Skey},
		"pass_ticket": {s.PassTicket},
	}
	body, err := c.postJSON(ctx, s.BaseURL+"/webwxsync", params, map[string]any{
		"BaseRequest": s.baseRequest(),
		"SyncKey":     s.SyncKey,
		"rr":          ^time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	if res := parseResult(body); !res.OK() {
		c.logger.Warn("sync rejected", zap.Int("ret", res.Ret), zap.String("err_msg", res.ErrMsg))
		return nil, nil
	}

	var resp struct {
		AddMsgList     []RawMessage `json:"AddMsgList"`
		ModContactList []RawContact `json:"ModContactList"`
		SyncKey        SyncKey      `json:"SyncKey"`
		SyncCheckKey   SyncKey      `json:"SyncCheckKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sync: %w", err)
	}
	c.update(func(s *Session) {
		s.SyncKey = resp.SyncKey
		s.SyncCheckKey = resp.SyncCheckKey.String()
		s.DeviceID = newDeviceID()
	})
	return &SyncResult{Messages: resp.AddMsgList, Contacts: resp.ModContactList}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
