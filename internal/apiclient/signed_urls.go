package apiclient

import "context"

// DownloadInputURL adapts GetDownloadInputURL to the plain (url, err) shape
// expected by internal/artifactstore.SignedURLSource.
func (c *Client) DownloadInputURL(ctx context.Context, taskID string) (string, error) {
	su, err := c.GetDownloadInputURL(ctx, taskID)
	if err != nil {
		return "", err
	}
	return su.URL, nil
}

// UploadOutputURL adapts GetUploadOutputURL to the plain (url, method, err)
// shape expected by internal/artifactstore.SignedURLSource.
func (c *Client) UploadOutputURL(ctx context.Context, taskID string) (string, string, error) {
	su, err := c.GetUploadOutputURL(ctx, taskID)
	if err != nil {
		return "", "", err
	}
	return su.URL, su.Method, nil
}
