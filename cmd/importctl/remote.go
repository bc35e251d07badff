package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tabimport/internal/model"
)

// apiClient speaks the importd HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Upload(ctx context.Context, path, orgID string, rename map[string]string) (*model.ImportJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("organization_id", orgID); err != nil {
		return nil, err
	}
	if len(rename) > 0 {
		raw, err := json.Marshal(rename)
		if err != nil {
			return nil, err
		}
		if err := w.WriteField("rename_map", string(raw)); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/imports", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var j model.ImportJob
	if err := c.do(req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *apiClient) Status(ctx context.Context, id string) (model.StatusView, error) {
	var v model.StatusView
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/imports/"+id+"/status", nil)
	if err != nil {
		return v, err
	}
	err = c.do(req, &v)
	return v, err
}

// errJobFailed marks a job that reached the error state.
var errJobFailed = errors.New("job failed")

// poll asks for the status every interval until the job is terminal or ctx
// ends. onUpdate sees every snapshot.
func poll(ctx context.Context, c *apiClient, id string, interval time.Duration, onUpdate func(model.StatusView)) (model.StatusView, error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		v, err := c.Status(ctx, id)
		if err != nil {
			return v, err
		}
		if onUpdate != nil {
			onUpdate(v)
		}
		if v.Status.Terminal() {
			if v.Status == model.StatusError {
				msg := ""
				if v.ErrorMessage != nil {
					msg = *v.ErrorMessage
				}
				return v, fmt.Errorf("%w: %s", errJobFailed, msg)
			}
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-t.C:
		}
	}
}

func printView(w io.Writer, id string) func(model.StatusView) {
	last := model.StatusView{Progress: -1}
	return func(v model.StatusView) {
		if v.Status == last.Status && v.Progress == last.Progress {
			return
		}
		last = v
		fmt.Fprintf(w, "%s %-10s %3d%%\n", id, v.Status, v.Progress)
	}
}

type statusOptions struct {
	interval time.Duration
	timeout  time.Duration
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Poll a job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			c := newAPIClient(root.server)
			_, err := poll(ctx, c, args[0], opts.interval, printView(cmd.OutOrStdout(), args[0]))
			return err
		},
	}
	cmd.Flags().DurationVar(&opts.interval, "interval", DefaultPollInterval, "poll interval")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "stop waiting after this long (0 = no limit)")
	return cmd
}

type uploadOptions struct {
	org      string
	rename   map[string]string
	wait     bool
	interval time.Duration
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file to importd and start its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(root.server)
			j, err := c.Upload(cmd.Context(), args[0], opts.org, opts.rename)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !opts.wait {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(j)
			}
			_, err = poll(cmd.Context(), c, j.ID, opts.interval, printView(out, j.ID))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.org, "org", "", "organization id (required)")
	f.StringToStringVar(&opts.rename, "rename", nil, "rename header columns, e.g. --rename \"Old Name=new_name\"")
	f.BoolVarP(&opts.wait, "wait", "w", false, "poll the job until it finishes")
	f.DurationVar(&opts.interval, "interval", DefaultPollInterval, "poll interval with --wait")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
