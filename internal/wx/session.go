package wx

import (
	"strconv"
	"strings"
)

// KeyVal is one counter of the sync cursor.
type KeyVal struct {
	Key int   `json:"Key"`
	Val int64 `json:"Val"`
}

// SyncKey is the structured sync cursor echoed on every sync call.
type SyncKey struct {
	Count int      `json:"Count"`
	List  []KeyVal `json:"List"`
}

// String renders the cursor in the synccheck form "k_v|k_v".
func (k SyncKey) String() string {
	parts := make([]string, 0, len(k.List))
	for _, kv := range k.List {
		parts = append(parts, strconv.Itoa(kv.Key)+"_"+strconv.FormatInt(kv.Val, 10))
	}
	return strings.Join(parts, "|")
}

// Session holds every token needed to authorize calls after login.
type Session struct {
	BaseURL string
	FileURL string
	SyncURL string

	DeviceID   string
	Sid        string
	Uin        string
	Skey       string
	PassTicket string

	SyncKey      SyncKey
	SyncCheckKey string
	LoginTime    int64

	InviteStartCount int

	UserName string
	NickName string
}

// LoggedIn reports whether the auth triple and pass ticket are present.
func (s Session) LoggedIn() bool {
	return s.Sid != "" && s.Uin != "" && s.Skey != "" && s.PassTicket != ""
}

// baseRequest is embedded in every JSON POST body.
type baseRequest struct {
	Uin      string `json:"Uin"`
	Sid      string `json:"Sid"`
	Skey     string `json:"Skey"`
	DeviceID string `json:"DeviceID"`
}

func (s Session) baseRequest() baseRequest {
	return baseRequest{Uin: s.Uin, Sid: s.Sid, Skey: s.Skey, DeviceID: s.DeviceID}
}

func (s Session) fileURL() string {
	if s.FileURL != "" {
		return s.FileURL
	}
	return s.BaseURL
}

func (s Session) syncURL() string {
	if s.SyncURL != "" {
		return s.SyncURL
	}
	return s.BaseURL
}

// hostURLs maps a working host suffix to its file and sync hosts. Order
// matters: the first suffix contained in the base URL wins.
var hostURLs = []struct {
	suffix string
	file   string
	sync   string
}{
	{"wx2.qq.com", "file.wx2.qq.com", "webpush.wx2.qq.com"},
	{"wx8.qq.com", "file.wx8.qq.com", "webpush.wx8.qq.com"},
	{"qq.com", "file.wx.qq.com", "webpush.wx.qq.com"},
	{"web2.wechat.com", "file.web2.wechat.com", "webpush.web2.wechat.com"},
	{"wechat.com", "file.web.wechat.com", "webpush.web.wechat.com"},
}

// resolveHosts returns the file and sync URLs for a base URL, reusing the
// base URL for both when no known host matches.
func resolveHosts(baseURL string) (fileURL, syncURL string) {
	for _, h := range hostURLs {
		if strings.Contains(baseURL, h.suffix) {
			return "https://" + h.file + "/cgi-bin/mmwebwx-bin", "https://" + h.sync + "/cgi-bin/mmwebwx-bin"
		}
	}
	return baseURL, baseURL
}
