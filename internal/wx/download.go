package wx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

// Download is a deferred binary fetch. Building one performs no I/O; the
// request runs only in Fetch or Save.
type Download struct {
	client   *Client
	endpoint string
	params   url.Values
	headers  map[string]string
}

// Endpoint returns the URL the download will hit, without query parameters.
func (d Download) Endpoint() string { return d.endpoint }

// Params returns a copy of the captured query parameters.
func (d Download) Params() url.Values {
	out := make(url.Values, len(d.params))
	for k, v := range d.params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Fetch runs the download and returns the body.
func (d Download) Fetch(ctx context.Context) ([]byte, error) {
	if d.client == nil {
		return nil, fmt.Errorf("download: no client")
	}
	body, resp, err := d.client.do(ctx, request{
		url:      d.endpoint,
		params:   d.params,
		headers:  d.headers,
		redirect: true,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", d.endpoint, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download %s: status %d", d.endpoint, resp.StatusCode)
	}
	return body, nil
}

// Save runs the download and writes the body to path.
func (d Download) Save(ctx context.Context, path string) error {
	body, err := d.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("save download: %w", err)
	}
	return nil
}

// ImageDownload captures a message picture fetch.
func (c *Client) ImageDownload(msgID string) Download {
	s := c.Session()
	return Download{
		client:   c,
		endpoint: s.BaseURL + "/webwxgetmsgimg",
		params:   url.Values{"msgid": {msgID}, "skey": {s.Skey}},
	}
}

// VoiceDownload captures a voice message fetch.
func (c *Client) VoiceDownload(msgID string) Download {
	s := c.Session()
	return Download{
		client:   c,
		endpoint: s.BaseURL + "/webwxgetvoice",
		params:   url.Values{"msgid": {msgID}, "skey": {s.Skey}},
	}
}

// VideoDownload captures a video fetch. The service only streams videos
// when a Range header is present.
func (c *Client) VideoDownload(msgID string) Download {
	s := c.Session()
	return Download{
		client:   c,
		endpoint: s.BaseURL + "/webwxgetvideo",
		params:   url.Values{"msgid": {msgID}, "skey": {s.Skey}},
		headers:  map[string]string{"Range": "bytes=0-"},
	}
}

// AttachmentDownload captures an attachment fetch from the file host.
func (c *Client) AttachmentDownload(m RawMessage) Download {
	s := c.Session()
	return Download{
		client:   c,
		endpoint: s.fileURL() + "/webwxgetmedia",
		params: url.Values{
			"sender":            {m.FromUserName},
			"mediaid":           {m.MediaID},
			"filename":          {m.FileName},
			"fromuser":          {s.Uin},
			"pass_ticket":       {"undefined"},
			"webwx_data_ticket": {c.Cookie("webwx_data_ticket")},
		},
	}
}
