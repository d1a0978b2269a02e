package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
)

// maxFingerprintCache is the size above which the cache is dropped wholesale.
const maxFingerprintCache = 10000

// stackFrames is the number of leading frames mixed into a fingerprint.
const stackFrames = 3

var (
	// Match ":42" or ":42:17" line/column suffixes.
	lineColPattern = regexp.MustCompile(`:\d+(:\d+)?`)

	// Match offset patterns like "+0x123".
	offsetPattern = regexp.MustCompile(`\+0x[0-9a-fA-F]+`)

	// Match memory addresses like "0x1234abcd".
	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// Fingerprinter computes grouping keys and caches them.
type Fingerprinter struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewFingerprinter creates an empty fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{cache: make(map[string]string)}
}

// Fingerprint returns the hex sha256 of "type:message" followed by the first
// three stack frames with line and column numbers normalized to zero. The
// cache is keyed on that whole hash input, so one message seen with two
// different call sites caches two fingerprints.
func (f *Fingerprinter) Fingerprint(errType, message, stack string) string {
	parts := append([]string{errType + ":" + message}, normalizeFrames(stack)...)
	input := strings.Join(parts, "\n")

	f.mu.Lock()
	defer f.mu.Unlock()

	if fp, ok := f.cache[input]; ok {
		return fp
	}
	if len(f.cache) >= maxFingerprintCache {
		f.cache = make(map[string]string)
	}

	sum := sha256.Sum256([]byte(input))
	fp := hex.EncodeToString(sum[:])
	f.cache[input] = fp
	return fp
}

// Size returns the number of cached fingerprints.
func (f *Fingerprinter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}

// normalizeFrames returns the first three frames of a stack trace with line
// and column numbers zeroed and addresses stripped.
func normalizeFrames(stack string) []string {
	if stack == "" {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") {
			continue
		}

		line = offsetPattern.ReplaceAllString(line, "")
		line = memAddrPattern.ReplaceAllString(line, "")
		line = lineColPattern.ReplaceAllStringFunc(line, func(m string) string {
			if strings.Count(m, ":") == 2 {
				return ":0:0"
			}
			return ":0"
		})
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		frames = append(frames, line)
		if len(frames) >= stackFrames {
			break
		}
	}
	return frames
}
