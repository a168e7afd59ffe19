package api

import (
	"context"
	"io"
	"net/http"
)

// ListAssets returns every asset. Both {"assets": [...]} and a bare array
// are accepted; none is an empty list.
func (c *Client) ListAssets(ctx context.Context) ([]Asset, error) {
	data, err := c.do(ctx, http.MethodGet, c.routes.Assets, nil, "")
	if err != nil {
		return nil, err
	}

	var assets []Asset
	if len(data) > 0 {
		if err := decodeWrapped(c.routes.Assets, data, "assets", &assets); err != nil {
			return nil, err
		}
	}
	if assets == nil {
		assets = []Asset{}
	}
	return assets, nil
}

// UploadAsset uploads a media file.
func (c *Client) UploadAsset(ctx context.Context, filename string, r io.Reader) (*Asset, error) {
	body, contentType, err := multipartBody(filename, r, nil)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodPost, c.routes.AssetUpload, body, contentType)
	if err != nil {
		return nil, err
	}

	var asset Asset
	if err := decodeWrapped(c.routes.AssetUpload, data, "asset", &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// DeleteAsset removes an asset.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, join(c.routes.Assets, id), nil, "")
	return err
}
