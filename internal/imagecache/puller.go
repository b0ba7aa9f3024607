package imagecache

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// ApptainerPuller invokes an Apptainer-compatible CLI to pull an image
// reference, optionally honoring SOCKS_PROXY_HOST/SOCKS_PROXY_PORT as
// HTTP(S)_PROXY per §4.2 step 4 / §6.
type ApptainerPuller struct {
	Binary         string
	SocksProxyHost string
	SocksProxyPort string
}

// Pull runs "<binary> pull <localPath> <uri>".
func (p *ApptainerPuller) Pull(ctx context.Context, localPath, uri string) error {
	binary := p.Binary
	if binary == "" {
		binary = "apptainer"
	}

	cmd := exec.CommandContext(ctx, binary, "pull", localPath, toPullURI(uri))
	cmd.Env = os.Environ()
	if p.SocksProxyHost != "" {
		proxyURL := "http://" + p.SocksProxyHost
		if p.SocksProxyPort != "" {
			proxyURL += ":" + p.SocksProxyPort
		}
		cmd.Env = append(cmd.Env, "HTTP_PROXY="+proxyURL, "HTTPS_PROXY="+proxyURL)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "apptainer pull failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// toPullURI normalizes a bare "name:tag" reference into "docker://name:tag"
// for apptainer, leaving explicit schemes untouched.
func toPullURI(ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	return "docker://" + ref
}
