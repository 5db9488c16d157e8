package blobupload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// strategy is a pure function building one HTTP request attempt for a
// blob upload, named per Design Notes §9: "long if-else chains of HTTP
// upload strategies" become "an ordered list of Strategy records, each a
// pure function producing an HTTP request; adding a new strategy is a
// data change."
type strategy struct {
	name        string
	method      string
	path        func(sha256 string) string
	multipart   bool
	authInForm  bool
}

// strategies is the ordered probe list from spec §4.7 step 3: raw PUT/POST
// to /{sha256} and /upload, then the same four as multipart, then the two
// POST variants with auth carried in the form body instead of the header.
var strategies = []strategy{
	{name: "put-hash", method: http.MethodPut, path: hashPath},
	{name: "post-hash", method: http.MethodPost, path: hashPath},
	{name: "put-upload", method: http.MethodPut, path: uploadPath},
	{name: "post-upload", method: http.MethodPost, path: uploadPath},
	{name: "put-hash-multipart", method: http.MethodPut, path: hashPath, multipart: true},
	{name: "post-hash-multipart", method: http.MethodPost, path: hashPath, multipart: true},
	{name: "put-upload-multipart", method: http.MethodPut, path: uploadPath, multipart: true},
	{name: "post-upload-multipart", method: http.MethodPost, path: uploadPath, multipart: true},
	{name: "post-hash-auth-in-form", method: http.MethodPost, path: hashPath, multipart: true, authInForm: true},
	{name: "post-upload-auth-in-form", method: http.MethodPost, path: uploadPath, multipart: true, authInForm: true},
}

func hashPath(sha256 string) string   { return "/" + sha256 }
func uploadPath(sha256 string) string { return "/upload" }

// authHeaderValue base64-encodes the signed kind-A event JSON for the
// "Authorization: Nostr <b64>" header (spec §4.2, §6).
func authHeaderValue(authEventJSON []byte) string {
	return "Nostr " + base64.StdEncoding.EncodeToString(authEventJSON)
}

// build constructs the HTTP request for this strategy attempt against
// server, using body's bytes (re-read per attempt since the same buffer
// is tried against multiple strategies and servers).
func (s strategy) build(ctx context.Context, server, sha256 string, body []byte, contentType string, authEventJSON []byte) (*http.Request, error) {
	url := server + s.path(sha256)

	var reqBody io.Reader
	var finalContentType string

	if s.multipart {
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		part, err := w.CreateFormFile("file", sha256)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(body); err != nil {
			return nil, err
		}
		if s.authInForm {
			if err := w.WriteField("auth", string(authEventJSON)); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		reqBody = buf
		finalContentType = w.FormDataContentType()
	} else {
		reqBody = bytes.NewReader(body)
		finalContentType = contentType
	}

	req, err := http.NewRequestWithContext(ctx, s.method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("blobupload: building %s request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", finalContentType)
	if !s.authInForm {
		req.Header.Set("Authorization", authHeaderValue(authEventJSON))
	}
	return req, nil
}

// marshalAuthEvent renders the signed kind-A event as the JSON payload
// the header/form-field encodings both carry.
func marshalAuthEvent(ev interface{}) ([]byte, error) {
	return json.Marshal(ev)
}
