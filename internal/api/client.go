// Package api talks to the trial archive server.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

const (
	healthPath = "/healthcheck"
	uploadPath = "/api/v1/trials/add"
)

// StatusError is a non-200 reply from the archive server.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: archive server returned %d", e.Op, e.Code)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	return c.do(req, "healthcheck")
}

// trialFields are the form fields describing one trial, in upload order.
func (c *Client) trialFields(path string, meta core.TrialMetadata, maneuver string) [][2]string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return [][2]string{
		{"secret", c.apiKey},
		{"filename", filepath.Base(path)},
		{"maneuver", maneuver},
		{"start", meta.Start.UTC().Format(time.RFC3339)},
		{"distance", num(meta.Distance)},
		{"velocity", num(meta.Velocity)},
		{"horizontalSeparation", num(meta.HorizontalSeparation)},
		{"heightAboveDefault", num(meta.HeightAboveDefault)},
		{"trial", strconv.Itoa(meta.Trial)},
	}
}

// UploadTrial streams the trial log at path to the archive as a multipart
// form together with its metadata.
func (c *Client) UploadTrial(ctx context.Context, path string, meta core.TrialMetadata, maneuver string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(form, file, path, meta, maneuver))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("upload %s: %w", path, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(req, "upload "+filepath.Base(path))
}

func (c *Client) writeForm(form *multipart.Writer, file io.Reader, path string, meta core.TrialMetadata, maneuver string) error {
	for _, f := range c.trialFields(path, meta, maneuver) {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copying trial log: %w", err)
	}
	return form.Close()
}

func (c *Client) do(req *http.Request, op string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	return nil
}
