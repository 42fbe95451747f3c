package ttt

import "encoding/json"

// CanonicalJSON renders v as JSON with object keys sorted at every depth, so
// structurally equal values share one representation. Structs and maps
// collapse to the same form; int and float spellings of the same number
// unify.
func CanonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var norm any
	if err := json.Unmarshal(b, &norm); err != nil {
		return "", err
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Equal reports deep structural equality via canonical JSON.
func Equal(a, b any) bool {
	ja, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	jb, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return ja == jb
}

// Vote groups attempts by canonical output and picks the group with the
// highest total weight, 1 + 1000*accuracy per attempt, so training accuracy
// dominates raw popularity. Confidence is the winner's share of all weight.
// Ties go to the group seen first.
func Vote(attempts []Attempt) (any, float64, error) {
	if len(attempts) == 0 {
		return nil, 0, nil
	}

	type group struct {
		output any
		weight float64
		first  int
	}
	groups := make(map[string]*group)
	total := 0.0
	for i, a := range attempts {
		key, err := CanonicalJSON(a.Output)
		if err != nil {
			return nil, 0, err
		}
		w := 1 + 1000*a.TrainingAccuracy
		total += w
		if g, ok := groups[key]; ok {
			g.weight += w
			continue
		}
		groups[key] = &group{output: a.Output, weight: w, first: i}
	}

	var win *group
	for _, g := range groups {
		if win == nil || g.weight > win.weight || (g.weight == win.weight && g.first < win.first) {
			win = g
		}
	}
	return win.output, win.weight / total, nil
}
