package wx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrAccountRestricted is returned when the confirmed login does not yield
// every session token. The account is presumed restricted from web login.
var ErrAccountRestricted = errors.New("account restricted from web login")

// ErrNoUUID is returned when the service does not hand out a QR challenge.
var ErrNoUUID = errors.New("no QR uuid returned")

// ScanStatus is the code returned by the scan-status poll.
type ScanStatus string

const (
	ScanPending   ScanStatus = "408"
	ScanScanned   ScanStatus = "201"
	ScanConfirmed ScanStatus = "200"
	ScanExpired   ScanStatus = "400"
)

// QRUUID requests a fresh QR challenge id.
func (c *Client) QRUUID(ctx context.Context) (string, error) {
	params := url.Values{
		"appid":        {appID},
		"fun":          {"new"},
		"redirect_uri": {c.opts.WebURL + "/webwxnewloginpage?mod=desktop"},
		"lang":         {"zh_CN"},
	}
	body, _, err := c.do(ctx, request{
		url:      c.opts.LoginURL + "/jslogin",
		params:   params,
		headers:  c.loginHeaders(),
		redirect: true,
	})
	if err != nil {
		return "", fmt.Errorf("request uuid: %w", err)
	}
	code, uuid := parseQRUUID(string(body))
	if code != "200" || uuid == "" {
		return "", ErrNoUUID
	}
	return uuid, nil
}

// QRPayload is the text encoded in the login QR code.
func (c *Client) QRPayload(uuid string) string {
	return c.opts.LoginURL + "/l/" + uuid
}

// PushLogin asks the service to push a confirmation to the phone of the
// account whose wxuin cookie is still present. It returns the uuid to poll.
func (c *Client) PushLogin(ctx context.Context) (string, bool) {
	uin := c.Cookie("wxuin")
	if uin == "" {
		return "", false
	}
	// Served by the login host, not the web host of the session.
	body, err := c.get(ctx, c.opts.LoginURL+"/cgi-bin/mmwebwx-bin/webwxpushloginurl", url.Values{"uin": {uin}})
	if err != nil {
		c.logger.Warn("push login failed", zap.Error(err))
		return "", false
	}
	doc := gjson.ParseBytes(body)
	uuid := doc.Get("uuid").String()
	if doc.Get("ret").String() != "0" || uuid == "" {
		return "", false
	}
	return uuid, true
}

// CheckLogin polls the scan status of uuid. On ScanConfirmed the session is
// established before returning; a missing token yields ErrAccountRestricted.
func (c *Client) CheckLogin(ctx context.Context, uuid string) (ScanStatus, error) {
	now := nowMillis()
	params := url.Values{
		"loginicon": {"true"},
		"uuid":      {uuid},
		"tip":       {"1"},
		"r":         {itoa(-now / 1579)},
		"_":         {itoa(now)},
	}
	body, _, err := c.do(ctx, request{
		url:      c.opts.LoginURL + "/cgi-bin/mmwebwx-bin/login",
		params:   params,
		headers:  c.loginHeaders(),
		redirect: true,
	})
	if err != nil {
		return "", fmt.Errorf("check login: %w", err)
	}
	status := ScanStatus(parseLoginCode(string(body)))
	if status != ScanConfirmed {
		return status, nil
	}
	if err := c.establish(ctx, string(body)); err != nil {
		return status, err
	}
	return status, nil
}

// establish follows the confirmed redirect and captures the session tokens.
func (c *Client) establish(ctx context.Context, loginBody string) error {
	redirect := parseRedirect(loginBody)
	if redirect == "" {
		return fmt.Errorf("%w: no redirect", ErrAccountRestricted)
	}
	body, resp, err := c.do(ctx, request{url: redirect, headers: c.loginHeaders()})
	if err != nil {
		return fmt.Errorf("fetch redirect: %w", err)
	}

	base := redirect
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	}
	fileURL, syncURL := resolveHosts(base)

	text := string(body)
	skey := firstGroup(skeyRe, text)
	passTicket := firstGroup(passTicketRe, text)
	sid := firstGroup(wxsidRe, text)
	uin := firstGroup(wxuinRe, text)
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case "wxsid":
			if sid == "" {
				sid = ck.Value
			}
		case "wxuin":
			if uin == "" {
				uin = ck.Value
			}
		}
	}
	if skey == "" || passTicket == "" || sid == "" || uin == "" {
		msg := firstGroup(messageRe, text)
		c.logger.Error("login tokens missing", zap.String("message", msg))
		return fmt.Errorf("%w: %s", ErrAccountRestricted, msg)
	}

	c.update(func(s *Session) {
		s.BaseURL = base
		s.FileURL = fileURL
		s.SyncURL = syncURL
		s.DeviceID = newDeviceID()
		s.Skey = skey
		s.PassTicket = passTicket
		s.Sid = sid
		s.Uin = uin
		s.LoginTime = nowMillis()
	})
	c.logger.Info("session established", zap.String("base_url", base))
	return nil
}

// newDeviceID returns "e" followed by 15 random digits.
func newDeviceID() string {
	var b strings.Builder
	b.WriteByte('e')
	for range 15 {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}

// InitResult is the bootstrap payload returned by Init.
type InitResult struct {
	Self     RawContact
	Contacts []RawContact
}

// Init fetches the local account record, the initial contact batch and the
// starting sync cursor.
func (c *Client) Init(ctx context.Context) (*InitResult, error) {
	s := c.Session()
	params := url.Values{
		"r":           {itoa(-nowMillis() / 1579)},
		"pass_ticket": {s.PassTicket},
	}
	body, err := c.postJSON(ctx, s.BaseURL+"/webwxinit", params, map[string]any{
		"BaseRequest": s.baseRequest(),
	})
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if res := parseResult(body); !res.OK() {
		return nil, fmt.Errorf("init: %w", res.Err())
	}

	var resp struct {
		User             RawContact   `json:"User"`
		ContactList      []RawContact `json:"ContactList"`
		SyncKey          SyncKey      `json:"SyncKey"`
		InviteStartCount int          `json:"InviteStartCount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode init: %w", err)
	}
	c.update(func(s *Session) {
		s.SyncKey = resp.SyncKey
		s.SyncCheckKey = resp.SyncKey.String()
		s.InviteStartCount = resp.InviteStartCount
		s.UserName = resp.User.UserName
		s.NickName = FormatEmoji(resp.User.NickName)
	})
	return &InitResult{Self: resp.User, Contacts: resp.ContactList}, nil
}

// StatusNotify announces the web session to the service.
func (c *Client) StatusNotify(ctx context.Context) Result {
	s := c.Session()
	params := url.Values{"lang": {"zh_CN"}, "pass_ticket": {s.PassTicket}}
	return c.call(ctx, s.BaseURL+"/webwxstatusnotify", params, map[string]any{
		"BaseRequest":  s.baseRequest(),
		"Code":         3,
		"FromUserName": s.UserName,
		"ToUserName":   s.UserName,
		"ClientMsgId":  nowMillis(),
	})
}

// Logout ends the session on the service when one exists, then clears the
// local tokens and cookies.
func (c *Client) Logout(ctx context.Context) {
	s := c.Session()
	if s.LoggedIn() {
		params := url.Values{"redirect": {"1"}, "type": {"1"}, "skey": {s.Skey}}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := c.get(ctx, s.BaseURL+"/webwxlogout", params); err != nil {
			c.logger.Warn("logout request failed", zap.Error(err))
		}
	}
	c.Reset()
}
