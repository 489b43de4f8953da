package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// UploadRequest is one save archive to store under a profile.
type UploadRequest struct {
	SlotName  string
	LocalPath string
	Checksum  string // lowercase hex SHA-256 of Body
	FileName  string
	Body      io.Reader
}

// UploadResult is what the service recorded for an accepted upload.
type UploadResult struct {
	UploadID      string `json:"upload_id"`
	SaveVersionID string `json:"save_version_id"`
	VersionNumber int    `json:"version_number"`
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	UploadID    string `json:"upload_id"`
	Checksum    string `json:"checksum"`
	Message     string `json:"message"`
	SaveVersion *struct {
		ID            string `json:"id"`
		VersionNumber int    `json:"version_number"`
	} `json:"save_version"`
}

// UploadSave streams a save archive as multipart/form-data. The body cannot
// be replayed, so the request is never retried here. A 422, a success:false
// answer or a differing echoed checksum is reported as ErrChecksumMismatch.
func (c *Client) UploadSave(ctx context.Context, profileID string, up UploadRequest) (*UploadResult, error) {
	if profileID == "" {
		return nil, errors.New("api: upload requires a profile id")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, up))
	}()

	resp, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "/api/devices/upload/" + url.PathEscape(profileID),
		stream:      pr,
		contentType: mw.FormDataContentType(),
		retry:       retryNever,
	})

	// Unblocks the writer goroutine if the request ended before reading
	// the whole body.
	pr.Close()

	if err != nil {
		if errors.Is(err, ErrUnprocessable) {
			return nil, fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
		}

		return nil, err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("api: decoding upload response: %w", err)
	}

	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "upload rejected"
		}

		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, msg)
	}

	if out.Checksum != "" && !strings.EqualFold(out.Checksum, up.Checksum) {
		return nil, fmt.Errorf("%w: sent %s, service stored %s", ErrChecksumMismatch, up.Checksum, out.Checksum)
	}

	res := &UploadResult{UploadID: out.UploadID}
	if out.SaveVersion != nil {
		res.SaveVersionID = out.SaveVersion.ID
		res.VersionNumber = out.SaveVersion.VersionNumber
	}

	return res, nil
}

func writeUploadForm(mw *multipart.Writer, up UploadRequest) error {
	for _, f := range [][2]string{
		{"slotName", up.SlotName},
		{"localPath", up.LocalPath},
		{"checksum", up.Checksum},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("api: writing form field %s: %w", f[0], err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="saveFile"; filename=%q`, up.FileName))
	h.Set("Content-Type", "application/zip")

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("api: creating file part: %w", err)
	}

	if _, err := io.Copy(part, up.Body); err != nil {
		return fmt.Errorf("api: streaming save archive: %w", err)
	}

	return mw.Close()
}

// SanitizeFileName replaces characters that are invalid in file names on
// common platforms.
func SanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, name)
}
