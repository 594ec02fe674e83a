// Package dataset loads MNIST, turns it into normalized image batches and
// corrupts them with Gaussian noise.
package dataset

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// ErrResourceUnavailable is returned when a dataset file cannot be found,
// downloaded, verified or parsed.
var ErrResourceUnavailable = errors.New("mnist: resource unavailable")

const (
	DefaultBaseURL  = "https://ossci-datasets.s3.amazonaws.com/mnist/"
	DefaultCacheDir = "datasets"

	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"

	imagesMagic = 2051
	labelsMagic = 2049

	// maxIDXBytes caps the payload an IDX header may declare. The
	// canonical training images are about 47 MB.
	maxIDXBytes = 1 << 30
)

// KnownDigests are the SHA-256 sums of the canonical MNIST files.
var KnownDigests = map[string]string{
	TrainImagesFile: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	TrainLabelsFile: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	TestImagesFile:  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	TestLabelsFile:  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
}

// LoaderConfig controls where the MNIST files come from.
type LoaderConfig struct {
	CacheDir string
	BaseURL  string
	// Digests maps file name to expected SHA-256; nil uses KnownDigests.
	// An empty digest skips verification for that file.
	Digests    map[string]string
	MaxRetries uint64
	Client     *http.Client

	// TrainLimit and TestLimit cap the number of samples kept; 0 keeps all.
	TrainLimit int
	TestLimit  int
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Digests == nil {
		c.Digests = KnownDigests
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	return c
}

// RawImages is a set of 8-bit grayscale images stored row-major, one image
// after the other.
type RawImages struct {
	N, Rows, Cols int
	Pixels        []uint8
}

// Image returns the pixels of image i.
func (r RawImages) Image(i int) []uint8 {
	size := r.Rows * r.Cols
	return r.Pixels[i*size : (i+1)*size]
}

// Truncate keeps at most n images; n <= 0 keeps all.
func (r RawImages) Truncate(n int) RawImages {
	if n <= 0 || n >= r.N {
		return r
	}
	r.N = n
	r.Pixels = r.Pixels[:n*r.Rows*r.Cols]
	return r
}

// Corpus is the canonical train/test split. Labels are only used to check
// the files agree with each other.
type Corpus struct {
	Train RawImages
	Test  RawImages
}

func unavailable(cause error, format string, args ...any) error {
	return errors.Wrapf(ErrResourceUnavailable, "%s: %v", fmt.Sprintf(format, args...), cause)
}

// Load returns the MNIST train and test images, reading them from the cache
// directory and downloading missing or corrupt files from the mirror.
func Load(ctx context.Context, cfg LoaderConfig) (*Corpus, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, unavailable(err, "create cache dir %s", cfg.CacheDir)
	}

	for _, name := range []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile} {
		if err := ensureFile(ctx, cfg, name); err != nil {
			return nil, err
		}
	}

	train, err := loadSplit(cfg.CacheDir, TrainImagesFile, TrainLabelsFile)
	if err != nil {
		return nil, err
	}
	test, err := loadSplit(cfg.CacheDir, TestImagesFile, TestLabelsFile)
	if err != nil {
		return nil, err
	}

	c := &Corpus{
		Train: train.Truncate(cfg.TrainLimit),
		Test:  test.Truncate(cfg.TestLimit),
	}
	log.Printf("dataset: loaded train=%d test=%d size=%dx%d", c.Train.N, c.Test.N, c.Train.Rows, c.Train.Cols)
	return c, nil
}

func loadSplit(dir, imagesFile, labelsFile string) (RawImages, error) {
	var images RawImages
	err := readGzip(filepath.Join(dir, imagesFile), func(r io.Reader) (err error) {
		images, err = ParseImages(r)
		return err
	})
	if err != nil {
		return RawImages{}, unavailable(err, "parse %s", imagesFile)
	}

	var labels []uint8
	err = readGzip(filepath.Join(dir, labelsFile), func(r io.Reader) (err error) {
		labels, err = ParseLabels(r)
		return err
	})
	if err != nil {
		return RawImages{}, unavailable(err, "parse %s", labelsFile)
	}
	if len(labels) != images.N {
		return RawImages{}, unavailable(
			fmt.Errorf("%d images but %d labels", images.N, len(labels)), "check %s", imagesFile)
	}
	return images, nil
}

func readGzip(path string, parse func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip")
	}
	defer gz.Close()
	return parse(gz)
}

// ensureFile makes sure name is present in the cache and matches its
// digest. A corrupt cached copy is removed and downloaded once more.
func ensureFile(ctx context.Context, cfg LoaderConfig, name string) error {
	dest := filepath.Join(cfg.CacheDir, name)
	want := cfg.Digests[name]

	if _, err := os.Stat(dest); err == nil {
		verr := verifyDigest(dest, want)
		if verr == nil {
			return nil
		}
		log.Printf("dataset: cached file invalid file=%s err=%v", dest, verr)
		if err := os.Remove(dest); err != nil {
			return unavailable(err, "remove %s", dest)
		}
	}

	url := cfg.BaseURL + name
	if err := download(ctx, cfg, url, dest); err != nil {
		return unavailable(err, "download %s", url)
	}
	if err := verifyDigest(dest, want); err != nil {
		os.Remove(dest)
		return unavailable(err, "verify %s", dest)
	}
	return nil
}

func verifyDigest(path, want string) error {
	if want == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.Wrap(err, "hash")
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("sha256 mismatch: got %s, want %s", got, want)
	}
	return nil
}

// download fetches url into dest, retrying transient failures with
// exponential backoff. Client errors (4xx) are not retried.
func download(ctx context.Context, cfg LoaderConfig, url, dest string) error {
	log.Printf("dataset: download url=%s dest=%s", url, dest)

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := cfg.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("bad status: %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		tmp := dest + ".part"
		out, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return backoff.Permanent(err)
		}
		return os.Rename(tmp, dest)
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("dataset: retry url=%s attempt=%d wait=%s err=%v", url, attempt, wait.Round(time.Millisecond), err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, cfg.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, notify)
}

// ParseImages reads an uncompressed IDX3 image file.
func ParseImages(r io.Reader) (RawImages, error) {
	var header struct {
		Magic, N, Rows, Cols int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return RawImages{}, errors.Wrap(err, "read images header")
	}
	if header.Magic != imagesMagic {
		return RawImages{}, errors.Errorf("invalid images magic number: %d", header.Magic)
	}
	if header.N < 0 || header.Rows <= 0 || header.Cols <= 0 {
		return RawImages{}, errors.Errorf("invalid images dimensions: n=%d rows=%d cols=%d", header.N, header.Rows, header.Cols)
	}

	size := int64(header.N) * int64(header.Rows) * int64(header.Cols)
	if size > maxIDXBytes {
		return RawImages{}, errors.Errorf("images payload of %d bytes exceeds limit %d", size, maxIDXBytes)
	}

	raw := RawImages{N: int(header.N), Rows: int(header.Rows), Cols: int(header.Cols)}
	raw.Pixels = make([]uint8, size)
	if _, err := io.ReadFull(r, raw.Pixels); err != nil {
		return RawImages{}, errors.Wrapf(err, "read %d images", raw.N)
	}
	return raw, nil
}

// ParseLabels reads an uncompressed IDX1 label file.
func ParseLabels(r io.Reader) ([]uint8, error) {
	var header struct {
		Magic, N int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read labels header")
	}
	if header.Magic != labelsMagic {
		return nil, errors.Errorf("invalid labels magic number: %d", header.Magic)
	}
	if header.N < 0 || int64(header.N) > maxIDXBytes {
		return nil, errors.Errorf("invalid label count: %d", header.N)
	}

	labels := make([]uint8, header.N)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, errors.Wrapf(err, "read %d labels", header.N)
	}
	return labels, nil
}
