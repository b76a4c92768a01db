package fusion

import (
	"bufio"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"
)

// ViewPair is a reference view and the source views matched to it.
type ViewPair struct {
	Ref     int
	Sources []int
}

// ReadPairFile reads a pair file from disk. See ParsePairs.
func ReadPairFile(fn string) ([]ViewPair, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, NewIOError(fn, err)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	pairs, err := ParsePairs(f)
	if err != nil {
		return nil, NewIOError(fn, err)
	}
	return pairs, nil
}

// ParsePairs decodes a pair file:
//
//	N
//	ref_id
//	count src_id score src_id score ...
//	(N blocks)
//
// Scores are ignored. Views without any source are dropped, and source order is kept as listed.
// A reference id may appear only once.
func ParsePairs(r io.Reader) ([]ViewPair, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	nextLine := func() (string, error) {
		for scanner.Scan() {
			lineNum++
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				return line, nil
			}
		}
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}

	line, err := nextLine()
	if err != nil {
		return nil, errors.Wrap(err, "missing view count")
	}
	numViews, err := strconv.Atoi(line)
	if err != nil || numViews < 0 {
		return nil, errors.Errorf("bad view count %q", line)
	}

	pairs := make([]ViewPair, 0, numViews)
	seen := make(map[int]struct{}, numViews)
	for i := 0; i < numViews; i++ {
		line, err := nextLine()
		if err != nil {
			return nil, errors.Wrapf(err, "missing reference id for view %d", i)
		}
		ref, err := strconv.Atoi(line)
		if err != nil || ref < 0 {
			return nil, errors.Errorf("line %d: bad reference id %q", lineNum, line)
		}
		if _, ok := seen[ref]; ok {
			return nil, errors.Errorf("line %d: reference id %d is listed twice", lineNum, ref)
		}
		seen[ref] = struct{}{}

		line, err = nextLine()
		if err != nil {
			return nil, errors.Wrapf(err, "missing sources for view %d", ref)
		}
		tokens := strings.Fields(line)
		count, err := strconv.Atoi(tokens[0])
		if err != nil || count < 0 {
			return nil, errors.Errorf("line %d: bad source count %q", lineNum, tokens[0])
		}
		if len(tokens) < 1+2*count {
			return nil, errors.Errorf("line %d: %d sources need %d values, got %d", lineNum, count, 2*count, len(tokens)-1)
		}
		sources := make([]int, count)
		for j := 0; j < count; j++ {
			src, err := strconv.Atoi(tokens[1+2*j])
			if err != nil || src < 0 {
				return nil, errors.Errorf("line %d: bad source id %q", lineNum, tokens[1+2*j])
			}
			sources[j] = src
		}
		if len(sources) > 0 {
			pairs = append(pairs, ViewPair{Ref: ref, Sources: sources})
		}
	}
	return pairs, nil
}

// ViewIDs returns every view referenced by pairs, as reference or source, in ascending order.
func ViewIDs(pairs []ViewPair) []int {
	ids := lo.FlatMap(pairs, func(p ViewPair, _ int) []int {
		return append([]int{p.Ref}, p.Sources...)
	})
	ids = lo.Uniq(ids)
	slices.Sort(ids)
	return ids
}
