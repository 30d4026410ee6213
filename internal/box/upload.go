package box

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/logging"
)

const commitAttempts = 5

// UploadFile uploads a local file into a folder under the given name.
// Files of MinChunkedUploadSize bytes or more go through an upload session.
func (c *Client) UploadFile(ctx context.Context, folderID, fileName, localPath string) (*File, error) {
	if strings.TrimSpace(localPath) == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("file name cannot be empty")
	}
	if folderID == "" {
		folderID = RootFolderID
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	start := time.Now()
	var file *File
	if info.Size() >= c.chunkThreshold {
		file, err = c.uploadChunked(ctx, folderID, fileName, localPath, info.Size())
	} else {
		file, err = c.uploadSimple(ctx, folderID, fileName, localPath)
	}
	if err != nil {
		return nil, err
	}

	logging.LogPerformance(logging.PerformanceMetrics{
		Operation:      "box_upload",
		Duration:       time.Since(start),
		BytesProcessed: info.Size(),
		Success:        true,
		Metadata:       map[string]interface{}{"file_name": fileName, "folder_id": folderID, "file_id": file.ID},
	})
	return file, nil
}

func (c *Client) uploadSimple(ctx context.Context, folderID, fileName, localPath string) (*File, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	attributes, err := json.Marshal(UploadFileRequest{Name: fileName, Parent: &FolderParent{ID: folderID}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file attributes: %w", err)
	}
	if err := writer.WriteField("attributes", string(attributes)); err != nil {
		return nil, fmt.Errorf("failed to write attributes field: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	payload := body.Bytes()
	resp, err := c.send(func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/files/content", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Content-MD5", sha1Hex(content))
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	return decodeUploadResponse(resp.Body)
}

func (c *Client) uploadChunked(ctx context.Context, folderID, fileName, localPath string, size int64) (*File, error) {
	var session UploadSession
	request := createUploadSessionRequest{FolderID: folderID, FileSize: size, FileName: fileName}
	if err := c.doJSON(ctx, http.MethodPost, c.uploadURL+"/files/upload_sessions", request, &session); err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}
	if session.PartSize <= 0 {
		return nil, fmt.Errorf("upload session %s returned no part size", session.ID)
	}

	f, err := os.Open(localPath)
	if err != nil {
		c.abortSession(ctx, session.ID)
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	whole := sha1.New()
	parts := make([]UploadPartInfo, 0, session.TotalParts)
	buffer := make([]byte, session.PartSize)
	var offset int64

	for offset < size {
		n, readErr := io.ReadFull(f, buffer)
		if n > 0 {
			chunk := buffer[:n]
			whole.Write(chunk)

			part, err := c.uploadPart(ctx, session.ID, chunk, offset, size)
			if err != nil {
				c.abortSession(ctx, session.ID)
				return nil, fmt.Errorf("failed to upload part at offset %d: %w", offset, err)
			}
			parts = append(parts, *part)
			offset += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			c.abortSession(ctx, session.ID)
			return nil, fmt.Errorf("failed to read file: %w", readErr)
		}
	}

	if offset != size {
		c.abortSession(ctx, session.ID)
		return nil, fmt.Errorf("file %s changed during upload: read %d of %d bytes", localPath, offset, size)
	}

	return c.commitSession(ctx, session.ID, parts, base64.StdEncoding.EncodeToString(whole.Sum(nil)))
}

func (c *Client) uploadPart(ctx context.Context, sessionID string, chunk []byte, offset, total int64) (*UploadPartInfo, error) {
	sum := sha1.Sum(chunk)
	digest := "sha=" + base64.StdEncoding.EncodeToString(sum[:])
	endpoint := fmt.Sprintf("%s/files/upload_sessions/%s", c.uploadURL, sessionID)

	resp, err := c.send(func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(chunk))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))
		req.Header.Set("Digest", digest)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out uploadPartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload part response: %w", err)
	}
	return &out.Part, nil
}

// commitSession commits the parts, waiting while Box reports the session is still processing
func (c *Client) commitSession(ctx context.Context, sessionID string, parts []UploadPartInfo, digest string) (*File, error) {
	payload, err := json.Marshal(commitUploadSessionRequest{Parts: parts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal commit request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/files/upload_sessions/%s/commit", c.uploadURL, sessionID)

	for attempt := 1; attempt <= commitAttempts; attempt++ {
		resp, err := c.send(func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Digest", "sha="+digest)
			return req, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to commit upload session: %w", err)
		}

		if resp.StatusCode != http.StatusAccepted {
			defer resp.Body.Close()
			return decodeUploadResponse(resp.Body)
		}

		resp.Body.Close()
		wait := time.Second
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			wait = time.Duration(s) * time.Second
		}
		logging.Debug("Upload session %s still processing, retrying commit in %s", sessionID, wait)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, &BoxError{
		StatusCode: http.StatusAccepted,
		Code:       ErrorCodeSessionNotReady,
		Message:    fmt.Sprintf("upload session %s was not committed after %d attempts", sessionID, commitAttempts),
	}
}

func (c *Client) abortSession(ctx context.Context, sessionID string) {
	endpoint := fmt.Sprintf("%s/files/upload_sessions/%s", c.uploadURL, sessionID)
	if err := c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		logging.Warn("Failed to abort upload session %s: %v", sessionID, err)
	}
}

func decodeUploadResponse(body io.Reader) (*File, error) {
	var out uploadResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if len(out.Entries) == 0 {
		return nil, errors.New("no file entries in upload response")
	}
	return &out.Entries[0], nil
}

func sha1Hex(data []byte) string {
	return fmt.Sprintf("%x", sha1.Sum(data))
}
