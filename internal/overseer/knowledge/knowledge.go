// Package knowledge implements the Overseer's policy-query retrieval step
// (spec §4.5 gating rule 6, §9): an in-memory inverted index over
// previously recorded incidents, searched by cosine similarity over
// bag-of-words term-frequency vectors. Spec §9 explicitly scopes the
// embedding-model choice out of this core, so this stays a classic
// information-retrieval index rather than a vector-DB client — nothing in
// the pack wires a vector store either, and pulling one in here would
// contradict that Non-goal.
package knowledge

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Incident is one recorded prior event the index can match future
// requests against: an operator's destructive action that was later
// flagged, plus the free-text note explaining why.
type Incident struct {
	ID     string
	Text   string
	Tags   []string
}

// Match is a ranked retrieval result.
type Match struct {
	Incident Incident
	Score    float64
}

// Index is a thread-safe inverted index of Incidents.
type Index struct {
	mu        sync.RWMutex
	incidents map[string]Incident
	vectors   map[string]map[string]float64 // incidentID -> term -> tf-idf weight
	df        map[string]int                // term -> document frequency
}

// New builds an empty Index.
func New() *Index {
	return &Index{
		incidents: make(map[string]Incident),
		vectors:   make(map[string]map[string]float64),
		df:        make(map[string]int),
	}
}

// Add inserts or replaces an Incident and rebuilds term weights.
func (idx *Index) Add(inc Incident) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, exists := idx.incidents[inc.ID]; exists {
		idx.removeLocked(old)
	}
	idx.incidents[inc.ID] = inc

	terms := tokenize(inc.Text + " " + strings.Join(inc.Tags, " "))
	tf := termFrequency(terms)
	for term := range tf {
		idx.df[term]++
	}
	idx.reindexLocked()
}

func (idx *Index) removeLocked(inc Incident) {
	delete(idx.incidents, inc.ID)
	terms := tokenize(inc.Text + " " + strings.Join(inc.Tags, " "))
	seen := make(map[string]struct{})
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if idx.df[t] > 0 {
			idx.df[t]--
		}
	}
}

// reindexLocked recomputes every incident's tf-idf vector against the
// current document frequencies. Called with idx.mu held.
func (idx *Index) reindexLocked() {
	n := float64(len(idx.incidents))
	idx.vectors = make(map[string]map[string]float64, len(idx.incidents))
	for id, inc := range idx.incidents {
		tf := termFrequency(tokenize(inc.Text + " " + strings.Join(inc.Tags, " ")))
		vec := make(map[string]float64, len(tf))
		for term, count := range tf {
			df := idx.df[term]
			if df == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(df))
			vec[term] = float64(count) * idf
		}
		idx.vectors[id] = vec
	}
}

// Search returns the top-k incidents ranked by cosine similarity to query.
func (idx *Index) Search(query string, topK int) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	qtf := termFrequency(tokenize(query))
	qvec := make(map[string]float64, len(qtf))
	for term, count := range qtf {
		qvec[term] = float64(count)
	}
	qnorm := norm(qvec)
	if qnorm == 0 {
		return nil
	}

	matches := make([]Match, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		score := cosine(qvec, qnorm, vec)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Incident: idx.incidents[id], Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Incident.ID < matches[j].Incident.ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// ConfidenceThreshold is the minimum cosine score gating treats as a
// confident prior-incident match (spec §4.5 rule 6).
const ConfidenceThreshold = 0.6

// Query adapts Search into the gating.KnowledgeQuery shape: a single
// best match, confident only if its score clears ConfidenceThreshold.
func (idx *Index) Query(fingerprint string) (string, bool) {
	top := idx.Search(fingerprint, 1)
	if len(top) == 0 || top[0].Score < ConfidenceThreshold {
		return "", false
	}
	return top[0].Incident.ID + ": " + top[0].Incident.Text, true
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	return fields
}

func termFrequency(terms []string) map[string]int {
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	return tf
}

func norm(vec map[string]float64) float64 {
	var sum float64
	for _, w := range vec {
		sum += w * w
	}
	return math.Sqrt(sum)
}

func cosine(qvec map[string]float64, qnorm float64, dvec map[string]float64) float64 {
	var dot float64
	for term, qw := range qvec {
		if dw, ok := dvec[term]; ok {
			dot += qw * dw
		}
	}
	dnorm := norm(dvec)
	if dnorm == 0 {
		return 0
	}
	return dot / (qnorm * dnorm)
}
