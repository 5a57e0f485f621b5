package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hubfs/hubfs/pkg/errors"
	"github.com/hubfs/hubfs/pkg/types"
)

// registry holds the startup-built virtual tree. Nodes reference each
// other freely, so they are allocated first and wired after.
type registry struct {
	root           *Node
	owner          *Node
	repo           *Node
	branch         *Node
	commit         *Node
	tag            *Node
	tree           *Node
	reference      *Node
	defaultBranch  *Node
	archive        *Node
	release        *Node
	latestRelease  *Node
	releaseDL      *Node
	releaseAsset   *Node
	releaseArchive *Node
}

func repoPath(d *Descriptor) string {
	return fmt.Sprintf("/repos/%s/%s", d.Get("owner"), d.Get("repo"))
}

func newRegistry() *registry {
	r := &registry{
		root:           &Node{name: "root"},
		owner:          &Node{name: "owner", key: "owner"},
		repo:           &Node{name: "repo", key: "repo"},
		branch:         &Node{name: "branch", key: "branch"},
		commit:         &Node{name: "commit", key: "sha"},
		tag:            &Node{name: "tag", key: "tag"},
		tree:           &Node{name: "tree", key: "path"},
		reference:      &Node{name: "reference", key: "ref"},
		defaultBranch:  &Node{name: "default_branch"},
		archive:        &Node{name: "archive", key: "archive"},
		release:        &Node{name: "release", key: "tag"},
		latestRelease:  &Node{name: "latest_release"},
		releaseDL:      &Node{name: "release_download", key: "tag"},
		releaseAsset:   &Node{name: "release_asset", key: "asset"},
		releaseArchive: &Node{name: "release_archive", key: "archive"},
	}

	r.root.children = uniform(r.owner)

	r.owner.children = uniform(r.repo)
	r.owner.headPath = func(d *Descriptor) string {
		return "/users/" + d.Get("owner")
	}
	r.owner.headKeys = []string{
		"created_at", "updated_at", "type",
		"public_repos", "public_gists", "followers", "following",
	}

	r.repo.children = &childSet{dirs: map[string]*childSet{
		"archive":  uniform(r.archive),
		"blob":     uniform(r.reference),
		"branches": uniform(r.branch),
		"commits":  uniform(r.commit),
		"HEAD":     uniform(r.defaultBranch),
		"refs": {dirs: map[string]*childSet{
			"heads": uniform(r.branch),
			"tags":  uniform(r.tag),
		}},
		"releases": {dirs: map[string]*childSet{
			"tag":      uniform(r.release),
			"latest":   uniform(r.latestRelease),
			"download": uniform(r.releaseDL),
		}},
		"tags": uniform(r.tag),
		"tree": uniform(r.reference),
	}}
	r.repo.listPath = func(d *Descriptor) (string, url.Values) {
		return "/users/" + d.Get("owner") + "/repos", nil
	}
	r.repo.listKey = "name"
	r.repo.headPath = repoPath
	r.repo.headKeys = []string{
		"created_at", "updated_at", "pushed_at", "private",
		"forks_count", "open_issues_count", "stargazers_count",
		"subscribers_count", "watchers_count", "default_branch",
	}

	r.branch.children = uniform(r.tree)
	r.branch.listPath = func(d *Descriptor) (string, url.Values) {
		return repoPath(d) + "/branches", nil
	}
	r.branch.listKey = "name"
	r.branch.headPath = func(d *Descriptor) string {
		return repoPath(d) + "/branches/" + d.Get("branch")
	}
	r.branch.headExtra = []extraField{
		{key: "pushed_at", paths: [][]string{{"commit", "commit", "committer", "date"}}},
		{key: "sha", paths: [][]string{{"commit", "sha"}}},
		{key: "tree_sha", paths: [][]string{{"commit", "commit", "tree", "sha"}}},
	}
	r.branch.symlink = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		sha, err := sys.header(r.branch, d).GetString(ctx, "sha")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("github://%s/%s/commits/%s", d.Get("owner"), d.Get("repo"), sha), nil
	}

	r.commit.children = uniform(r.tree)
	r.commit.listPath = func(d *Descriptor) (string, url.Values) {
		return repoPath(d) + "/commits", nil
	}
	r.commit.listKey = "sha"
	r.commit.headPath = func(d *Descriptor) string {
		return repoPath(d) + "/commits/" + d.Get("sha")
	}
	// Commits are immutable once addressed by hash.
	r.commit.headNever = true
	r.commit.headKeys = []string{"sha"}
	r.commit.headExtra = []extraField{
		{key: "pushed_at", paths: [][]string{{"commit", "committer", "date"}}},
		{key: "tree_sha", paths: [][]string{{"commit", "tree", "sha"}}},
	}

	r.tag.children = uniform(r.tree)
	r.tag.listPath = func(d *Descriptor) (string, url.Values) {
		return repoPath(d) + "/tags", nil
	}
	r.tag.listKey = "name"
	r.tag.headPath = func(d *Descriptor) string {
		return repoPath(d) + "/git/ref/tags/" + d.Get("tag")
	}
	r.tag.headExtra = []extraField{
		{key: "sha", paths: [][]string{{"object", "sha"}, {"commit", "sha"}}},
	}
	r.tag.headFrom = map[string]*Node{
		"pushed_at": r.commit,
		"tree_sha":  r.commit,
	}
	r.tag.symlink = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		sha, err := sys.header(r.tag, d).GetString(ctx, "sha")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("github://%s/%s/commits/%s", d.Get("owner"), d.Get("repo"), sha), nil
	}

	// Tree consumes the whole remaining path; everything it knows comes
	// from the git trees API of the enclosing revision.
	r.tree.listFn = func(ctx context.Context, sys *System, d *Descriptor) ([]types.DirEntry, error) {
		entries, err := sys.treeEntries(ctx, d)
		if err != nil {
			return nil, err
		}
		prefix := d.Get("path")
		var out []types.DirEntry
		for _, e := range entries {
			name, ok := childOf(e.Path, prefix)
			if !ok {
				continue
			}
			out = append(out, types.DirEntry{Name: name, IsDir: e.Type == "tree"})
		}
		return out, nil
	}
	r.tree.headKeys = []string{"mode", "size"}
	r.tree.headFn = func(ctx context.Context, sys *System, d *Descriptor) (map[string]interface{}, error) {
		entries, err := sys.treeEntries(ctx, d)
		if err != nil {
			return nil, err
		}
		target := d.Get("path")
		for _, e := range entries {
			if e.Path == target {
				fields := map[string]interface{}{"mode": e.Mode}
				if e.Size != nil {
					fields["size"] = *e.Size
				}
				return fields, nil
			}
		}
		return nil, errors.NewNotFound(d.Path())
	}
	r.tree.headFrom = map[string]*Node{
		"sha":       r.commit,
		"pushed_at": r.commit,
	}
	r.tree.borrowFn = func(ctx context.Context, sys *System, d *Descriptor, _ *Node) (map[string]interface{}, error) {
		return sys.latestCommitFor(ctx, d)
	}
	r.tree.seekable = true
	r.tree.downloadURL = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		ref := d.ref()
		if ref == "" {
			ref = "HEAD"
		}
		return fmt.Sprintf("%s/%s/%s/%s/%s",
			sys.rawBase, d.Get("owner"), d.Get("repo"), ref, d.Get("path")), nil
	}

	r.reference.children = uniform(r.tree)
	r.reference.resolveFn = func(ctx context.Context, sys *System, d *Descriptor) (*Resolution, error) {
		return sys.resolveReference(ctx, d)
	}

	r.defaultBranch.children = uniform(r.tree)
	r.defaultBranch.headFn = func(ctx context.Context, sys *System, d *Descriptor) (map[string]interface{}, error) {
		if err := sys.ensureDefaultBranch(ctx, d); err != nil {
			return nil, err
		}
		return sys.restHead(ctx, r.branch, d)
	}
	r.defaultBranch.symlink = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		if err := sys.ensureDefaultBranch(ctx, d); err != nil {
			return "", err
		}
		return fmt.Sprintf("github://%s/%s/branches/%s",
			d.Get("owner"), d.Get("repo"), d.Get("branch")), nil
	}

	r.archive.downloadURL = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		return fmt.Sprintf("%s/%s/%s/archive/%s",
			sys.webBase, d.Get("owner"), d.Get("repo"), d.Get("archive")), nil
	}
	r.archive.headFn = func(ctx context.Context, sys *System, d *Descriptor) (map[string]interface{}, error) {
		return sys.archiveHead(ctx, r.archive, d)
	}
	r.archive.headFrom = map[string]*Node{
		"pushed_at": r.reference,
		"sha":       r.reference,
	}
	r.archive.borrowFn = func(ctx context.Context, sys *System, d *Descriptor, _ *Node) (map[string]interface{}, error) {
		ref := trimArchiveExt(d.Get("archive"))
		return sys.referenceFields(ctx, d, ref, "sha", "pushed_at")
	}
	r.archive.listFn = func(ctx context.Context, sys *System, d *Descriptor) ([]types.DirEntry, error) {
		var out []types.DirEntry
		for _, node := range []*Node{r.tag, r.branch} {
			names, err := sys.listNames(ctx, node, d)
			if err != nil {
				return nil, err
			}
			for _, name := range names {
				out = append(out,
					types.DirEntry{Name: name + ".tar.gz"},
					types.DirEntry{Name: name + ".zip"})
			}
		}
		return out, nil
	}

	releaseChildren := &childSet{dirs: map[string]*childSet{
		"assets":  uniform(r.releaseAsset),
		"tree":    uniform(r.tree),
		"archive": uniform(r.releaseArchive),
	}}

	r.release.children = releaseChildren
	r.release.listPath = func(d *Descriptor) (string, url.Values) {
		return repoPath(d) + "/releases", nil
	}
	r.release.listKey = "tag_name"
	r.release.headPath = func(d *Descriptor) string {
		return repoPath(d) + "/releases/tags/" + d.Get("tag")
	}
	r.release.headKeys = []string{"prerelease", "created_at", "published_at", "name"}
	r.release.headExtra = []extraField{
		{key: "tag", paths: [][]string{{"tag_name"}}},
	}
	r.release.headFrom = map[string]*Node{
		"sha":      r.tag,
		"tree_sha": r.commit,
	}

	r.latestRelease.children = releaseChildren
	r.latestRelease.headPath = func(d *Descriptor) string {
		return repoPath(d) + "/releases/latest"
	}
	r.latestRelease.headKeys = []string{"prerelease", "created_at", "published_at", "name"}
	r.latestRelease.headExtra = []extraField{
		{key: "tag", paths: [][]string{{"tag_name"}}},
	}
	r.latestRelease.symlink = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		tag, err := sys.header(r.latestRelease, d).GetString(ctx, "tag")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/%s/%s/releases/tag/%s",
			sys.webBase, d.Get("owner"), d.Get("repo"), tag), nil
	}

	r.releaseDL.children = uniform(r.releaseAsset)
	r.releaseDL.headPath = r.release.headPath
	r.releaseDL.headKeys = r.release.headKeys
	r.releaseDL.headExtra = r.release.headExtra

	r.releaseAsset.seekable = true
	r.releaseAsset.downloadURL = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		if err := sys.ensureReleaseTag(ctx, d); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/%s/%s/releases/download/%s/%s",
			sys.webBase, d.Get("owner"), d.Get("repo"), d.Get("tag"), d.Get("asset")), nil
	}
	r.releaseAsset.headFn = func(ctx context.Context, sys *System, d *Descriptor) (map[string]interface{}, error) {
		return sys.releaseAssetHead(ctx, d)
	}
	r.releaseAsset.headFrom = map[string]*Node{"sha": r.tag}
	r.releaseAsset.borrowFn = func(ctx context.Context, sys *System, d *Descriptor, _ *Node) (map[string]interface{}, error) {
		return sys.tagFields(ctx, d, "sha")
	}

	r.releaseArchive.downloadURL = func(ctx context.Context, sys *System, d *Descriptor) (string, error) {
		name := d.Get("archive")
		if base, ext, ok := splitArchiveName(name); ok && base == "source_code" {
			if err := sys.ensureReleaseTag(ctx, d); err != nil {
				return "", err
			}
			name = d.Get("tag") + ext
		}
		return fmt.Sprintf("%s/%s/%s/archive/%s",
			sys.webBase, d.Get("owner"), d.Get("repo"), name), nil
	}
	r.releaseArchive.headFn = func(ctx context.Context, sys *System, d *Descriptor) (map[string]interface{}, error) {
		return sys.archiveHead(ctx, r.releaseArchive, d)
	}
	r.releaseArchive.headFrom = map[string]*Node{
		"pushed_at": r.tag,
		"sha":       r.tag,
	}
	r.releaseArchive.borrowFn = func(ctx context.Context, sys *System, d *Descriptor, _ *Node) (map[string]interface{}, error) {
		return sys.tagFields(ctx, d, "sha", "pushed_at")
	}
	r.releaseArchive.listFn = func(ctx context.Context, sys *System, d *Descriptor) ([]types.DirEntry, error) {
		return []types.DirEntry{
			{Name: "source_code.tar.gz"},
			{Name: "source_code.zip"},
		}, nil
	}

	return r
}

// archiveExts are the formats the archive endpoints serve.
var archiveExts = []string{".tar.gz", ".zip"}

func splitArchiveName(name string) (base, ext string, ok bool) {
	for _, e := range archiveExts {
		if strings.HasSuffix(name, e) {
			return strings.TrimSuffix(name, e), e, true
		}
	}
	return name, "", false
}

// trimArchiveExt strips the archive extension, leaving the revision the
// archive was cut from.
func trimArchiveExt(name string) string {
	base, _, _ := splitArchiveName(name)
	return base
}

// childOf returns the first path segment of p under prefix, and whether
// p is a direct child of prefix.
func childOf(p, prefix string) (string, bool) {
	if prefix != "" {
		if !strings.HasPrefix(p, prefix+"/") {
			return "", false
		}
		p = p[len(prefix)+1:]
	}
	if p == "" || strings.Contains(p, "/") {
		return "", false
	}
	return p, true
}
