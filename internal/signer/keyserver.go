package signer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/crypto/openpgp"

	"github.com/nexushub/server/internal/errkind"
)

// FetchPublicKey resolves a public key by its 20-byte fingerprint, checking
// a local on-disk cache before falling back to an HKP "get" lookup against
// keyServerURL, matching get_or_import_public_key: a cache hit skips the
// network entirely, and a network hit is verified by fingerprint before
// being trusted and cached.
func FetchPublicKey(ctx context.Context, fingerprint [20]byte, keyServerURL, cacheDir string) (*openpgp.Entity, error) {
	fpHex := fmt.Sprintf("%X", fingerprint[:])
	cachePath := filepath.Join(cacheDir, fpHex+".asc")

	if entity, err := readArmoredEntity(cachePath); err == nil {
		return entity, nil
	}

	lookupURL := fmt.Sprintf("%s/pks/lookup?op=get&options=mr&search=%s", keyServerURL, url.QueryEscape(fpHex))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, "build key server request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindUnavailable, "key server request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.New(errkind.KindNotFound, "public key not found on key server")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindUnavailable, "read key server response", err)
	}

	list, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInvalidArgument, "decode fetched public key", err)
	}
	if len(list) == 0 {
		return nil, errkind.New(errkind.KindNotFound, "public key not found on key server")
	}
	entity := list[0]

	if FingerprintHex(entity) != fpHex {
		return nil, errkind.New(errkind.KindInvalidArgument, "fetched key fingerprint does not match requested fingerprint")
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return entity, nil
	}
	_ = os.WriteFile(cachePath, body, 0o644)

	return entity, nil
}
