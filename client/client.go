// client/client.go
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apierrors "patchpack/internal/errors"
	"patchpack/internal/registry"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Minute * 5,
		},
	}
}

// Push uploads a container under label and returns the stored release
func (c *Client) Push(label string, data []byte) (*registry.Release, error) {
	u := fmt.Sprintf("%s/api/releases?label=%s", c.baseURL, url.QueryEscape(label))
	resp, err := c.httpClient.Post(u, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var rel registry.Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// Pull downloads the container bytes of a release
func (c *Client) Pull(id string) ([]byte, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/api/releases/%s/container", c.baseURL, url.PathEscape(id)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) Get(id string) (*registry.Release, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/api/releases/%s", c.baseURL, url.PathEscape(id)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var rel registry.Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (c *Client) List() ([]*registry.Release, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/api/releases", c.baseURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var releases []*registry.Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, err
	}
	return releases, nil
}

func (c *Client) Delete(id string) error {
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/releases/%s", c.baseURL, url.PathEscape(id)), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}

// responseError decodes the server's typed error, falling back to the
// status line when the body is not one.
func responseError(resp *http.Response) error {
	var apiErr apierrors.Error
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	if apiErr.Code == 0 {
		apiErr.Code = resp.StatusCode
	}
	return &apiErr
}
