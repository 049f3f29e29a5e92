package wx

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChunkSize is the fixed upload chunk length.
const ChunkSize = 524288

// MediaType selects how the service stores an upload.
type MediaType string

const (
	MediaPicture  MediaType = "pic"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "doc"
)

// Media is a payload to send. When MediaID is set the upload is skipped.
type Media struct {
	FileName string
	Data     []byte
	MediaID  string
}

// LoadMedia reads a local file into a Media value.
func LoadMedia(path string) (Media, Result) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Media{}, failed(RetFileMissing, err.Error())
	}
	return Media{FileName: filepath.Base(path), Data: data}, Result{}
}

// UploadRequest describes one media upload.
type UploadRequest struct {
	FileName   string
	Data       []byte
	ToUserName string
	MediaType  MediaType
}

type uploadDescriptor struct {
	UploadType    int         `json:"UploadType"`
	BaseRequest   baseRequest `json:"BaseRequest"`
	ClientMediaID int64       `json:"ClientMediaId"`
	TotalLen      int         `json:"TotalLen"`
	StartPos      int         `json:"StartPos"`
	DataLen       int         `json:"DataLen"`
	MediaType     int         `json:"MediaType"`
	FromUserName  string      `json:"FromUserName"`
	ToUserName    string      `json:"ToUserName"`
	FileMd5       string      `json:"FileMd5"`
}

// UploadMedia uploads the payload in ChunkSize pieces and returns the media
// handle from the final chunk's response. The first failing chunk aborts the
// upload.
func (c *Client) UploadMedia(ctx context.Context, req UploadRequest) Result {
	if len(req.Data) == 0 {
		return failed(RetParamError, "empty upload payload")
	}
	if req.MediaType == "" {
		req.MediaType = mediaTypeFor(req.FileName)
	}
	s := c.Session()
	sum := md5.Sum(req.Data)
	desc, err := json.Marshal(uploadDescriptor{
		UploadType:    2,
		BaseRequest:   s.baseRequest(),
		ClientMediaID: nowMillis(),
		TotalLen:      len(req.Data),
		DataLen:       len(req.Data),
		MediaType:     4,
		FromUserName:  s.UserName,
		ToUserName:    req.ToUserName,
		FileMd5:       hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return failed(RetParamError, err.Error())
	}

	chunks := (len(req.Data)-1)/ChunkSize + 1
	var res Result
	for chunk := 0; chunk < chunks; chunk++ {
		end := min((chunk+1)*ChunkSize, len(req.Data))
		res = c.uploadChunk(ctx, s, req, string(desc), chunk, chunks, req.Data[chunk*ChunkSize:end])
		if !res.OK() {
			c.logger.Warn("upload chunk failed",
				zap.String("file", req.FileName),
				zap.Int("chunk", chunk),
				zap.Int("ret", res.Ret),
			)
			return res
		}
	}
	if res.MediaID == "" {
		return failed(RetServerRefused, "no media id in upload response")
	}
	return res
}

func (c *Client) uploadChunk(ctx context.Context, s Session, req UploadRequest, desc string, chunk, chunks int, part []byte) Result {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(req.FileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	fields := [][2]string{
		{"id", "WU_FILE_0"},
		{"name", req.FileName},
		{"type", contentType},
		{"lastModifiedDate", time.Now().Format("Mon Jan 02 2006 15:04:05 GMT-0700 (MST)")},
		{"size", strconv.Itoa(len(req.Data))},
	}
	if chunks > 1 {
		fields = append(fields, [2]string{"chunks", strconv.Itoa(chunks)}, [2]string{"chunk", strconv.Itoa(chunk)})
	}
	fields = append(fields,
		[2]string{"mediatype", string(req.MediaType)},
		[2]string{"uploadmediarequest", desc},
		[2]string{"webwx_data_ticket", c.Cookie("webwx_data_ticket")},
		[2]string{"pass_ticket", s.PassTicket},
	)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return failed(RetParamError, err.Error())
		}
	}
	fw, err := w.CreateFormFile("filename", req.FileName)
	if err != nil {
		return failed(RetParamError, err.Error())
	}
	if _, err := fw.Write(part); err != nil {
		return failed(RetParamError, err.Error())
	}
	if err := w.Close(); err != nil {
		return failed(RetParamError, err.Error())
	}

	body, _, err := c.do(ctx, request{
		method:   http.MethodPost,
		url:      s.fileURL() + "/webwxuploadmedia",
		params:   url.Values{"f": {"json"}},
		body:     &buf,
		headers:  map[string]string{"Content-Type": w.FormDataContentType()},
		redirect: true,
	})
	if err != nil {
		return requestFailed(fmt.Errorf("upload chunk %d/%d: %w", chunk+1, chunks, err))
	}
	return parseResult(body)
}

// mediaTypeFor picks the upload media type from a file name.
func mediaTypeFor(fileName string) MediaType {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".gif":
		return MediaPicture
	case ".mp4":
		return MediaVideo
	default:
		return MediaDocument
	}
}
