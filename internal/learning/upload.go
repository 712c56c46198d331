package learning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"conflux-trader/pkg/httpclient"
)

// Uploader 把模型文件以 multipart 表单 (字段 file) 上传到 {baseURL}/upload，返回内容 ID
type Uploader struct {
	baseURL string
	client  *httpclient.Client
}

func NewUploader(baseURL string, client *httpclient.Client) *Uploader {
	if client == nil {
		client = httpclient.NewClient()
	}
	return &Uploader{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	var resp struct {
		CID string `json:"cid"`
	}
	err = u.client.SendAndParse(ctx, &httpclient.RequestOptions{
		Method:  http.MethodPost,
		URL:     u.baseURL + "/upload",
		Headers: map[string]string{"Content-Type": mw.FormDataContentType()},
		Body:    &body,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	if resp.CID == "" {
		return "", errors.New("upload response has no cid")
	}
	return resp.CID, nil
}
