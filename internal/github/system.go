package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hubfs/hubfs/internal/cache"
	"github.com/hubfs/hubfs/internal/metrics"
	"github.com/hubfs/hubfs/internal/rest"
	"github.com/hubfs/hubfs/internal/webstore"
	"github.com/hubfs/hubfs/pkg/errors"
	"github.com/hubfs/hubfs/pkg/retry"
	"github.com/hubfs/hubfs/pkg/stream"
	"github.com/hubfs/hubfs/pkg/types"
)

// Default endpoints.
const (
	defaultAPIBase = "https://api.github.com"
	defaultWebBase = "https://github.com"
	defaultRawBase = "https://raw.githubusercontent.com"
)

// Metadata fields feeding ObjectInfo, probed in order.
var (
	sizeKeys  = []string{"size", "Content-Length"}
	ctimeKeys = []string{"created_at"}
	mtimeKeys = []string{"pushed_at", "updated_at", "published_at"}
)

// Config represents GitHub provider configuration.
type Config struct {
	// Token is the personal access token; anonymous access works with a
	// far lower rate limit.
	Token string `yaml:"token"`

	// WaitOnRateLimit blocks through an exhausted quota instead of
	// failing.
	WaitOnRateLimit bool `yaml:"wait_on_rate_limit"`

	// ChunkSize is the buffered stream chunk size in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// Workers bounds concurrent chunk transfers per stream.
	Workers int `yaml:"workers"`

	// Endpoint overrides, empty for the public service.
	APIBase string `yaml:"api_base"`
	WebBase string `yaml:"web_base"`
	RawBase string `yaml:"raw_base"`

	HTTPClient *http.Client `yaml:"-"`
}

// System is the GitHub storage provider. It is safe for concurrent use.
type System struct {
	client  *rest.Client
	httpc   *http.Client
	nodes   *registry
	retryer *retry.Retryer

	webBase string
	rawBase string
	auth    map[string]string

	chunkSize int
	workers   int

	log     *logrus.Entry
	metrics *metrics.Collector
}

// NewSystem creates the provider. The cache may be nil to disable API
// response caching.
func NewSystem(cfg Config, store *cache.Cache, log *logrus.Entry, collector *metrics.Collector) *System {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	webBase := cfg.WebBase
	if webBase == "" {
		webBase = defaultWebBase
	}
	rawBase := cfg.RawBase
	if rawBase == "" {
		rawBase = defaultRawBase
	}

	headers := map[string]string{
		"Accept": "application/vnd.github.v3+json",
	}
	auth := map[string]string{}
	if cfg.Token != "" {
		headers["Authorization"] = "token " + cfg.Token
		auth["Authorization"] = "token " + cfg.Token
	}

	return &System{
		client: rest.New(rest.Config{
			BaseURL:         apiBase,
			Headers:         headers,
			WaitOnRateLimit: cfg.WaitOnRateLimit,
			RateLimitPath:   "/rate_limit",
			HTTPClient:      httpc,
		}, store, log, collector),
		httpc:     httpc,
		nodes:     newRegistry(),
		retryer:   retry.New(retry.DefaultConfig()),
		webBase:   webBase,
		rawBase:   rawBase,
		auth:      auth,
		chunkSize: cfg.ChunkSize,
		workers:   cfg.Workers,
		log:       log.WithField("storage", "github"),
		metrics:   collector,
	}
}

// Scheme returns the provider's mount scheme.
func (s *System) Scheme() string { return "github" }

// Resolve walks path through the virtual tree.
func (s *System) Resolve(ctx context.Context, path string) (*Resolution, error) {
	return s.nodes.root.next(ctx, s, newDescriptor(path))
}

// GetClientArgs resolves path and returns every captured field.
func (s *System) GetClientArgs(ctx context.Context, path string) (map[string]string, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	return res.Descriptor.Values(), nil
}

// header returns a fresh lazy metadata view for node at d.
func (s *System) header(node *Node, d *Descriptor) *Header {
	return newHeader(s, node, d)
}

// Head returns the metadata of the object or directory at path.
func (s *System) Head(ctx context.Context, path string) (*types.ObjectInfo, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	// The object must actually exist to be described; a miss on the
	// node's own head call (a 404ing repo or owner) surfaces here.
	h := s.header(res.Object, res.Descriptor)
	if _, err := h.All(ctx); err != nil {
		return nil, err
	}

	info := &types.ObjectInfo{Path: path}
	for _, key := range sizeKeys {
		if v, err := h.GetInt64(ctx, key); err == nil {
			info.Size = v
			break
		}
	}
	for _, key := range ctimeKeys {
		if v, err := h.GetTime(ctx, key); err == nil {
			info.Created = v
			break
		}
	}
	for _, key := range mtimeKeys {
		if v, err := h.GetTime(ctx, key); err == nil {
			info.Modified = v
			break
		}
	}
	if ct, err := h.GetString(ctx, "Content-Type"); err == nil {
		info.ContentType = ct
	}

	info.Mode, err = s.modeOf(ctx, res, h)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// modeOf derives the filesystem mode of a resolved path.
func (s *System) modeOf(ctx context.Context, res *Resolution, h *Header) (fs.FileMode, error) {
	if res.Object == s.nodes.tree && !res.Virtual {
		gitMode, err := h.GetString(ctx, "mode")
		if err != nil {
			return 0, err
		}
		switch {
		case strings.HasPrefix(gitMode, "040"):
			return fs.ModeDir | 0o755, nil
		case gitMode == "120000":
			return fs.ModeSymlink | 0o777, nil
		default:
			perm, err := strconv.ParseUint(lastN(gitMode, 3), 8, 32)
			if err != nil {
				return 0o644, nil
			}
			return fs.FileMode(perm), nil
		}
	}
	if !res.Object.leaf() || res.Virtual {
		return fs.ModeDir | 0o755, nil
	}
	return 0o644, nil
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// List returns the entries directly under path: the literal segments of
// a heterogeneous node, or the objects of a uniform child node.
func (s *System) List(ctx context.Context, path string) ([]types.DirEntry, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	content := res.Content
	if content == nil {
		return nil, errors.NewNotADirectory(path)
	}

	if content.dirs != nil {
		names := content.dirNames()
		sort.Strings(names)
		entries := make([]types.DirEntry, 0, len(names))
		for _, name := range names {
			entries = append(entries, types.DirEntry{Name: name, IsDir: true})
		}
		return entries, nil
	}

	node := content.node
	switch {
	case node.listFn != nil:
		return node.listFn(ctx, s, res.Descriptor)
	case node.listPath != nil:
		names, err := s.listNames(ctx, node, res.Descriptor)
		if err != nil {
			return nil, err
		}
		entries := make([]types.DirEntry, 0, len(names))
		for _, name := range names {
			entries = append(entries, types.DirEntry{Name: name, IsDir: !node.leaf()})
		}
		return entries, nil
	default:
		return nil, errors.NewUnsupported("list " + path)
	}
}

// listNames pages through node's LIST endpoint and collects the item
// names.
func (s *System) listNames(ctx context.Context, node *Node, d *Descriptor) ([]string, error) {
	path, params := node.listPath(d)
	pager := s.client.GetPaged(ctx, path, params)

	var names []string
	for pager.Next() {
		var item map[string]interface{}
		if err := json.Unmarshal(pager.Item(), &item); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", path, err)
		}
		if name, ok := item[node.listKey].(string); ok {
			names = append(names, name)
		}
	}
	return names, pager.Err()
}

// Exists reports whether path resolves to a live object.
func (s *System) Exists(ctx context.Context, path string) (bool, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.header(res.Object, res.Descriptor).All(ctx); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDir reports whether path is a directory.
func (s *System) IsDir(ctx context.Context, path string) (bool, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if res.Object == s.nodes.tree && !res.Virtual {
		mode, err := s.header(res.Object, res.Descriptor).GetString(ctx, "mode")
		if err != nil {
			if errors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return strings.HasPrefix(mode, "040"), nil
	}
	return !res.Object.leaf() || res.Virtual, nil
}

// IsFile reports whether path is a regular file.
func (s *System) IsFile(ctx context.Context, path string) (bool, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if !res.Object.leaf() || res.Virtual {
		return false, nil
	}
	if res.Object == s.nodes.tree {
		mode, err := s.header(res.Object, res.Descriptor).GetString(ctx, "mode")
		if err != nil {
			if errors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return strings.HasPrefix(mode, "100"), nil
	}
	return s.Exists(ctx, path)
}

// IsSymlink reports whether path is a symbolic link. Branches, tags and
// the HEAD and latest-release pseudo entries are links to the revision
// they currently point at; tree entries are links when their git mode
// says so.
func (s *System) IsSymlink(ctx context.Context, path string) (bool, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if res.Virtual {
		return false, nil
	}
	if res.Object == s.nodes.tree {
		mode, err := s.header(res.Object, res.Descriptor).GetString(ctx, "mode")
		if err != nil {
			if errors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return mode == "120000", nil
	}
	return res.Object.symlink != nil, nil
}

// ReadLink returns the target of the link at path. Tree-entry links
// carry their target as the blob content.
func (s *System) ReadLink(ctx context.Context, path string) (string, error) {
	res, err := s.Resolve(ctx, path)
	if err != nil {
		return "", err
	}

	if res.Object == s.nodes.tree && !res.Virtual {
		mode, err := s.header(res.Object, res.Descriptor).GetString(ctx, "mode")
		if err != nil {
			return "", err
		}
		if mode != "120000" {
			return "", errors.NewNotASymlink(path)
		}
		target, err := s.download(ctx, res)
		if err != nil {
			return "", err
		}
		data, err := target.ReadRange(ctx, 0, 0)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if res.Virtual || res.Object.symlink == nil {
		return "", errors.NewNotASymlink(path)
	}
	return res.Object.symlink(ctx, s, res.Descriptor)
}

// Follow resolves path through any chain of provider-internal links and
// returns the final path or external target.
func (s *System) Follow(ctx context.Context, path string) (string, error) {
	for depth := 0; depth < 40; depth++ {
		link, err := s.IsSymlink(ctx, path)
		if err != nil {
			return "", err
		}
		if !link {
			return path, nil
		}
		target, err := s.ReadLink(ctx, path)
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(target, "github://") {
			return target, nil
		}
		path = strings.TrimPrefix(target, "github://")
	}
	return "", fmt.Errorf("too many levels of symbolic links: %s", path)
}

// download builds the HTTP backend for the resolved object's content.
func (s *System) download(ctx context.Context, res *Resolution) (*webstore.Object, error) {
	if res.Object.downloadURL == nil || res.Virtual {
		return nil, errors.NewIsADirectory(res.Descriptor.Path())
	}
	target, err := res.Object.downloadURL(ctx, s, res.Descriptor)
	if err != nil {
		return nil, err
	}
	return webstore.NewObject(s.httpc, target, s.auth), nil
}

// OpenRaw opens an unbuffered read stream on the object at path.
func (s *System) OpenRaw(ctx context.Context, path string, mode stream.Mode) (*stream.Raw, error) {
	if mode != stream.ModeRead {
		return nil, errors.NewUnsupported("write")
	}
	res, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	obj, err := s.download(ctx, res)
	if err != nil {
		return nil, err
	}
	return stream.NewRaw(ctx, stream.RawConfig{
		Mode:     stream.ModeRead,
		Seekable: res.Object.seekable,
		Reader:   obj,
		Sizer:    obj,
		Stater:   obj,
		Metrics:  s.metrics,
	})
}

// OpenBuffered opens a chunked read stream on the object at path.
func (s *System) OpenBuffered(ctx context.Context, path string, mode stream.Mode) (*stream.Buffered, error) {
	if mode != stream.ModeRead {
		return nil, errors.NewUnsupported("write")
	}
	res, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	obj, err := s.download(ctx, res)
	if err != nil {
		return nil, err
	}
	return stream.NewBuffered(stream.BufferedConfig{
		Mode:      stream.ModeRead,
		ChunkSize: s.chunkSize,
		Workers:   s.workers,
		Reader:    obj,
		Metrics:   s.metrics,
	})
}

// nodeHead fetches the metadata a node owns directly.
func (s *System) nodeHead(ctx context.Context, node *Node, d *Descriptor) (map[string]interface{}, error) {
	if node.headFn != nil {
		return node.headFn(ctx, s, d)
	}
	if node.headPath == nil {
		return map[string]interface{}{}, nil
	}
	return s.restHead(ctx, node, d)
}

// restHead performs the node's HEAD endpoint call and extracts the
// owned and derived fields.
func (s *System) restHead(ctx context.Context, node *Node, d *Descriptor) (map[string]interface{}, error) {
	body, _, err := s.client.Get(ctx, node.headPath(d), nil, node.headNever)
	if err != nil {
		return nil, err
	}

	var full map[string]interface{}
	if err := json.Unmarshal(body, &full); err != nil {
		return nil, fmt.Errorf("decode %s: %w", node.headPath(d), err)
	}

	out := make(map[string]interface{})
	for _, key := range node.headKeys {
		if v, ok := full[key]; ok {
			out[key] = v
		}
	}
	for _, extra := range node.headExtra {
		for _, p := range extra.paths {
			if v, ok := walkJSON(full, p); ok {
				out[extra.key] = v
				break
			}
		}
	}
	return out, nil
}

func walkJSON(m map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = m
	for _, seg := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// treeEntry is one row of a git trees listing.
type treeEntry struct {
	Path string   `json:"path"`
	Mode string   `json:"mode"`
	Type string   `json:"type"`
	Size *float64 `json:"size"`
}

// treeEntries returns the full recursive tree of the revision the
// descriptor points at. Tree listings are addressed by hash and never
// expire.
func (s *System) treeEntries(ctx context.Context, d *Descriptor) ([]treeEntry, error) {
	refNode := s.refNodeFor(d)
	treeSha, err := s.header(refNode, d).GetString(ctx, "tree_sha")
	if err != nil {
		return nil, err
	}

	params := url.Values{"recursive": {"1"}}
	body, _, err := s.client.Get(ctx, repoPath(d)+"/git/trees/"+treeSha, params, true)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tree []treeEntry `json:"tree"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", treeSha, err)
	}
	return listing.Tree, nil
}

// refNodeFor picks the node describing the revision already captured in
// the descriptor, falling back to the default branch.
func (s *System) refNodeFor(d *Descriptor) *Node {
	switch {
	case d.Has("sha"):
		return s.nodes.commit
	case d.Has("branch"):
		return s.nodes.branch
	case d.Has("tag"):
		return s.nodes.tag
	default:
		return s.nodes.defaultBranch
	}
}

// latestCommitFor returns the identifying fields of the newest commit
// touching the descriptor's path.
func (s *System) latestCommitFor(ctx context.Context, d *Descriptor) (map[string]interface{}, error) {
	params := url.Values{"path": {d.Get("path")}, "per_page": {"1"}}
	if ref := d.ref(); ref != "" {
		params.Set("sha", ref)
	}

	body, _, err := s.client.Get(ctx, repoPath(d)+"/commits", params, false)
	if err != nil {
		return nil, err
	}

	var commits []map[string]interface{}
	if err := json.Unmarshal(body, &commits); err != nil {
		return nil, fmt.Errorf("decode commits for %s: %w", d.Get("path"), err)
	}
	if len(commits) == 0 {
		return nil, errors.NewNotFound(d.Path())
	}

	out := make(map[string]interface{})
	if v, ok := commits[0]["sha"]; ok {
		out["sha"] = v
	}
	if v, ok := walkJSON(commits[0], []string{"commit", "committer", "date"}); ok {
		out["pushed_at"] = v
	}
	return out, nil
}

// ensureDefaultBranch captures the repository's default branch into the
// descriptor.
func (s *System) ensureDefaultBranch(ctx context.Context, d *Descriptor) error {
	if d.Has("branch") {
		return nil
	}
	branch, err := s.header(s.nodes.repo, d).GetString(ctx, "default_branch")
	if err != nil {
		return err
	}
	d.Set("branch", branch)
	return nil
}

// ensureReleaseTag captures the release tag into the descriptor,
// resolving the latest release when the path did not name one.
func (s *System) ensureReleaseTag(ctx context.Context, d *Descriptor) error {
	if d.Has("tag") {
		return nil
	}
	tag, err := s.header(s.nodes.latestRelease, d).GetString(ctx, "tag")
	if err != nil {
		return err
	}
	d.Set("tag", tag)
	return nil
}

// tagFields resolves the release tag and borrows fields from its tag
// header.
func (s *System) tagFields(ctx context.Context, d *Descriptor, fields ...string) (map[string]interface{}, error) {
	if err := s.ensureReleaseTag(ctx, d); err != nil {
		return nil, err
	}
	h := s.header(s.nodes.tag, d)
	out := make(map[string]interface{})
	for _, field := range fields {
		v, err := h.Get(ctx, field)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

// isHex40 reports whether seg looks like a full commit hash.
func isHex40(seg string) bool {
	if len(seg) != 40 {
		return false
	}
	for _, c := range seg {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// candidateOrder is the probe order for an ambiguous revision segment:
// an exact 40-hex segment is most likely a commit hash, anything else a
// branch or tag first.
func (s *System) candidateOrder(seg string) []*Node {
	if isHex40(seg) {
		return []*Node{s.nodes.commit, s.nodes.branch, s.nodes.tag}
	}
	return []*Node{s.nodes.branch, s.nodes.tag, s.nodes.commit}
}

// resolveReference disambiguates a blob/tree revision segment by
// probing candidate nodes with a head call each until one answers.
func (s *System) resolveReference(ctx context.Context, d *Descriptor) (*Resolution, error) {
	seg, ok := d.peekKey()
	if !ok {
		return &Resolution{
			Descriptor: d,
			Object:     s.nodes.reference,
			Content:    s.nodes.reference.children,
		}, nil
	}
	if seg == "HEAD" {
		_, _ = d.popKey()
		return s.nodes.defaultBranch.next(ctx, s, d)
	}

	for _, cand := range s.candidateOrder(seg) {
		probe := d.clone()
		probe.Set(cand.key, seg)
		if _, err := s.nodeHead(ctx, cand, probe); err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		return cand.next(ctx, s, d)
	}
	return nil, errors.NewNotFound(d.Path())
}

// referenceFields probes ref like resolveReference and borrows fields
// from the matching node's header.
func (s *System) referenceFields(ctx context.Context, d *Descriptor, ref string, fields ...string) (map[string]interface{}, error) {
	for _, cand := range s.candidateOrder(ref) {
		probe := d.clone()
		probe.Set(cand.key, ref)
		if _, err := s.nodeHead(ctx, cand, probe); err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		h := s.header(cand, probe)
		out := make(map[string]interface{})
		for _, field := range fields {
			v, err := h.Get(ctx, field)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			out[field] = v
		}
		return out, nil
	}
	return nil, errors.NewNotFound(d.Path())
}

// archiveHead describes a source archive with a direct HTTP HEAD,
// retried while the archive is still being cut (no Content-Length yet).
func (s *System) archiveHead(ctx context.Context, node *Node, d *Descriptor) (map[string]interface{}, error) {
	target, err := node.downloadURL(ctx, s, d)
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	err = s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return err
		}
		for k, v := range s.auth {
			req.Header.Set(k, v)
		}
		resp, err := s.httpc.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if err := errors.FromStatusCode(resp.StatusCode, d.Path()); err != nil {
			return err
		}
		cl := resp.Header.Get("Content-Length")
		if cl == "" {
			return fmt.Errorf("archive %s not ready", d.Get("archive"))
		}
		fields = map[string]interface{}{
			"Content-Type":   resp.Header.Get("Content-Type"),
			"Content-Length": cl,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// releaseAssetHead finds the asset's row in its release's asset list.
func (s *System) releaseAssetHead(ctx context.Context, d *Descriptor) (map[string]interface{}, error) {
	if err := s.ensureReleaseTag(ctx, d); err != nil {
		return nil, err
	}

	body, _, err := s.client.Get(ctx, repoPath(d)+"/releases/tags/"+d.Get("tag"), nil, false)
	if err != nil {
		return nil, err
	}

	var release struct {
		Assets []map[string]interface{} `json:"assets"`
	}
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, fmt.Errorf("decode release %s: %w", d.Get("tag"), err)
	}

	for _, asset := range release.Assets {
		if name, _ := asset["name"].(string); name == d.Get("asset") {
			out := make(map[string]interface{})
			for _, key := range []string{"size", "download_count", "created_at", "updated_at", "content_type"} {
				if v, ok := asset[key]; ok {
					out[key] = v
				}
			}
			return out, nil
		}
	}
	return nil, errors.NewNotFound(d.Path())
}
