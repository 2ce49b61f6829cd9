// Package evalmetrics computes classification metrics over label/prediction
// sequences.
package evalmetrics

import "sort"

// Accuracy returns the fraction of predictions equal to their label
func Accuracy(labels, preds []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i := range labels {
		if i < len(preds) && labels[i] == preds[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// MacroPrecisionRecallF1 averages per-class precision, recall and F1 over every
// class that appears in labels or preds. A class with no predicted (or no true)
// samples contributes 0 for the undefined ratio.
func MacroPrecisionRecallF1(labels, preds []int) (precision, recall, f1 float64) {
	n := len(labels)
	if len(preds) < n {
		n = len(preds)
	}
	if n == 0 {
		return 0, 0, 0
	}

	tp := map[int]int{}
	fp := map[int]int{}
	fn := map[int]int{}
	present := map[int]bool{}
	for i := 0; i < n; i++ {
		y, p := labels[i], preds[i]
		present[y] = true
		present[p] = true
		if y == p {
			tp[y]++
			continue
		}
		fp[p]++
		fn[y]++
	}

	classes := make([]int, 0, len(present))
	for c := range present {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	for _, c := range classes {
		p := ratio(tp[c], tp[c]+fp[c])
		r := ratio(tp[c], tp[c]+fn[c])
		precision += p
		recall += r
		if p+r > 0 {
			f1 += 2 * p * r / (p + r)
		}
	}
	k := float64(len(classes))
	return precision / k, recall / k, f1 / k
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
