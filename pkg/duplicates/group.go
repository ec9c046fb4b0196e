// Package duplicates groups catalog images into duplicate sets, by exact
// checksum match or by perceptual hash similarity, and picks a primary image
// from each group. The algorithms operate on plain slices of summaries; they
// have no knowledge of storage or job orchestration.
package duplicates

import (
	"errors"
	"sort"

	"github.com/lumina-project/catalogjobs/pkg/imagehash"
	"github.com/lumina-project/catalogjobs/pkg/models"
)

// DefaultThreshold is the maximum Hamming distance (out of 64 bits) at which
// two perceptual hashes are still considered similar.
const DefaultThreshold = 5

// GroupByExactMatch groups images sharing a non-empty checksum. Groups of
// size 1 are dropped.
func GroupByExactMatch(images []models.HashSummary) []models.DuplicateGroup {
	byChecksum := make(map[string][]string)
	for _, img := range images {
		if img.Checksum == "" {
			continue
		}
		byChecksum[img.Checksum] = append(byChecksum[img.Checksum], img.ID)
	}

	var groups []models.DuplicateGroup
	for _, ids := range byChecksum {
		if len(ids) < 2 {
			continue
		}
		groups = append(groups, models.DuplicateGroup{
			SimilarityType: models.SimilarityExact,
			Confidence:     100,
			Members:        membersWithScore(ids, 100),
		})
	}
	return groups
}

// unionFind is path-compressing disjoint-set over string keys.
type unionFind struct {
	parent map[string]string
}

func newUnionFind(keys []string) *unionFind {
	parent := make(map[string]string, len(keys))
	for _, k := range keys {
		parent[k] = k
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x string) string {
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(x, y string) {
	px, py := u.find(x), u.find(y)
	if px != py {
		u.parent[px] = py
	}
}

// FindSimilarHashes groups image IDs whose hashes are within threshold
// Hamming distance of each other, transitively (a-b and b-c similar implies
// a and c end up in the same group even if a-c alone exceeds threshold).
func FindSimilarHashes(hashes map[string]string, threshold int) ([][]string, error) {
	ids := make([]string, 0, len(hashes))
	for id := range hashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	uf := newUnionFind(ids)

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			dist, err := imagehash.HammingDistance(hashes[ids[i]], hashes[ids[j]])
			if err != nil {
				return nil, err
			}
			if dist <= threshold {
				uf.union(ids[i], ids[j])
			}
		}
	}

	byRoot := make(map[string][]string)
	for _, id := range ids {
		root := uf.find(id)
		byRoot[root] = append(byRoot[root], id)
	}

	var groups [][]string
	for _, members := range byRoot {
		if len(members) > 1 {
			sort.Strings(members)
			groups = append(groups, members)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups, nil
}

// GroupBySimilarity groups images by perceptual hash distance, using the
// hash selected by hashKey from each image's HashSummary. hashKey must be
// one of "dhash", "ahash", "whash".
func GroupBySimilarity(images []models.HashSummary, hashKey string, threshold int) ([]models.DuplicateGroup, error) {
	hashes := make(map[string]string)
	byID := make(map[string]models.HashSummary, len(images))
	for _, img := range images {
		byID[img.ID] = img
		h := hashFor(img, hashKey)
		if h != "" {
			hashes[img.ID] = h
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	sets, err := FindSimilarHashes(hashes, threshold)
	if err != nil {
		return nil, err
	}

	groups := make([]models.DuplicateGroup, 0, len(sets))
	for _, ids := range sets {
		totalDist, comparisons := 0, 0
		memberScores := make(map[string]int, len(ids))
		for i := 0; i < len(ids); i++ {
			bestForI := 0
			for j := 0; j < len(ids); j++ {
				if i == j {
					continue
				}
				dist, err := imagehash.HammingDistance(hashes[ids[i]], hashes[ids[j]])
				if err != nil {
					return nil, err
				}
				if j > i {
					totalDist += dist
					comparisons++
				}
				score := int(100 * (1 - float64(dist)/64))
				if score > bestForI {
					bestForI = score
				}
			}
			memberScores[ids[i]] = bestForI
		}

		avgDist := 0.0
		if comparisons > 0 {
			avgDist = float64(totalDist) / float64(comparisons)
		}
		confidence := clamp(int(100*(1-avgDist/64)), 0, 100)

		groups = append(groups, models.DuplicateGroup{
			SimilarityType: models.SimilarityPerceptual,
			Confidence:     confidence,
			Members:        membersWithIndividualScores(ids, memberScores),
		})
	}
	return groups, nil
}

// SelectPrimaryImage picks the best image from a group: highest quality
// score, then largest size, then greatest ID (a deterministic, if
// unintuitive, final tiebreaker carried over from the original scorer).
func SelectPrimaryImage(images []models.HashSummary) (string, error) {
	if len(images) == 0 {
		return "", errors.New("duplicates: cannot select primary from empty group")
	}

	best := images[0]
	for _, img := range images[1:] {
		if betterPrimary(img, best) {
			best = img
		}
	}
	return best.ID, nil
}

func betterPrimary(a, b models.HashSummary) bool {
	aq, bq := qualityOf(a), qualityOf(b)
	if aq != bq {
		return aq > bq
	}
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes > b.SizeBytes
	}
	return a.ID > b.ID
}

func qualityOf(img models.HashSummary) float64 {
	if img.QualityScore == nil {
		return 0
	}
	return *img.QualityScore
}

func hashFor(img models.HashSummary, hashKey string) string {
	switch hashKey {
	case "ahash":
		return img.AHash
	case "whash":
		return img.WHash
	default:
		return img.DHash
	}
}

func membersWithScore(ids []string, score int) []models.DuplicateMember {
	out := make([]models.DuplicateMember, len(ids))
	for i, id := range ids {
		out[i] = models.DuplicateMember{ImageID: id, SimilarityScore: score}
	}
	return out
}

func membersWithIndividualScores(ids []string, scores map[string]int) []models.DuplicateMember {
	out := make([]models.DuplicateMember, len(ids))
	for i, id := range ids {
		out[i] = models.DuplicateMember{ImageID: id, SimilarityScore: scores[id]}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
