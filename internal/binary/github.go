package binary

import (
	"context"
	"fmt"
	"strings"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// LatestRelease fetches the latest published release of project
// ("owner/repo") from the release host at apiURL.
func (c *Client) LatestRelease(ctx context.Context, apiURL, project string) (*ReleaseMetadata, error) {
	owner, repo, err := SplitProject(project)
	if err != nil {
		return nil, err
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	s, err := loadSchemas()
	if err != nil {
		return nil, newError(KindUnknown, "load schemas", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(apiURL, "/"), owner, repo)

	var rel ReleaseMetadata
	if err := c.fetchJSON(ctx, endpoint, s.release, &rel); err != nil {
		return nil, err
	}
	c.log.Debug("release metadata", "tag", rel.TagName, "assets_url", rel.AssetsURL)
	return &rel, nil
}

// ListAssets fetches the asset listing of rel.
func (c *Client) ListAssets(ctx context.Context, rel *ReleaseMetadata) ([]Asset, error) {
	if rel == nil || rel.AssetsURL == "" {
		return nil, newError(KindParse, "list assets", fmt.Errorf("release has no assets_url"))
	}

	s, err := loadSchemas()
	if err != nil {
		return nil, newError(KindUnknown, "load schemas", err)
	}

	var assets []Asset
	if err := c.fetchJSON(ctx, rel.AssetsURL, s.assets, &assets); err != nil {
		return nil, err
	}
	c.log.Debug("asset listing", "count", len(assets))
	return assets, nil
}

// SplitProject splits "owner/repo".
func SplitProject(project string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(project), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", newError(KindParse, "parse project", fmt.Errorf("want owner/repo, got %q", project))
	}
	return owner, repo, nil
}
