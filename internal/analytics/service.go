// Package analytics answers the store's traffic, demographic and emotion
// questions from grouped visit counts.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/storage"
)

// Store is the aggregate query surface the reports are computed from.
type Store interface {
	CountVisits(ctx context.Context, r storage.Range, dims ...storage.Dimension) ([]storage.GroupCount, error)
}

type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log.Named("analytics")}
}

// Business hours considered by the per-weekday hour reports.
const (
	openHour  = 6
	closeHour = 23
)

const (
	emotionHappy = "HAPPY"
	emotionSad   = "SAD"
	emotionTie   = "TIE"
)

// Ranked is a label with its count, ordered by count descending.
type Ranked struct {
	Rank  int    `json:"rank"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type DayHour struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	Hour    int    `json:"hour"`
	Count   int    `json:"count"`
}

type DayCount struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	Count   int    `json:"count"`
}

type AgeBucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

type Predominant struct {
	Emotion string `json:"predominant_emotion"`
	Count   int    `json:"count"`
}

type WeekdayEmotion struct {
	Weekday string `json:"weekday"`
	Predominant
}

type AgeCount struct {
	Age   int `json:"age"`
	Count int `json:"count"`
}

func (s *Service) count(ctx context.Context, r storage.Range, dims ...storage.Dimension) ([]storage.GroupCount, error) {
	rows, err := s.store.CountVisits(ctx, r, dims...)
	if err != nil {
		s.log.Warn("aggregate query failed", zap.Any("dimensions", dims), zap.Error(err))
		return nil, fmt.Errorf("count visits by %v: %w", dims, err)
	}
	return rows, nil
}

// HourlyTraffic returns 24 hourly visit counts for r (normally one day).
func (s *Service) HourlyTraffic(ctx context.Context, r storage.Range) ([]HourCount, error) {
	rows, err := s.count(ctx, r, storage.DimHour)
	if err != nil {
		return nil, err
	}
	out := make([]HourCount, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, row := range rows {
		h, err := strconv.Atoi(row.Values[0])
		if err != nil || h < 0 || h > 23 {
			continue
		}
		out[h].Count += row.Count
	}
	return out, nil
}

// PeakHours returns, for each day of the week starting at weekStart, the
// business hour with the most visits. Days without traffic report hour 0.
func (s *Service) PeakHours(ctx context.Context, weekStart time.Time) ([]DayHour, error) {
	return s.weekHours(ctx, weekStart, func(counts []int) (int, int) {
		best := openHour
		for h := openHour + 1; h <= closeHour; h++ {
			if counts[h] > counts[best] {
				best = h
			}
		}
		return best, counts[best]
	})
}

// LeastBusyHours returns, for each day of the week starting at weekStart,
// the business hour with the fewest visits. Days without traffic report
// hour 0.
func (s *Service) LeastBusyHours(ctx context.Context, weekStart time.Time) ([]DayHour, error) {
	return s.weekHours(ctx, weekStart, func(counts []int) (int, int) {
		best := openHour
		for h := openHour + 1; h <= closeHour; h++ {
			if counts[h] < counts[best] {
				best = h
			}
		}
		return best, counts[best]
	})
}

func (s *Service) weekHours(ctx context.Context, weekStart time.Time, pick func([]int) (int, int)) ([]DayHour, error) {
	start := truncateDay(weekStart)
	rows, err := s.count(ctx, storage.Range{From: start, To: start.AddDate(0, 0, 7)}, storage.DimDate, storage.DimHour)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string][]int, 7)
	for _, row := range rows {
		h, err := strconv.Atoi(row.Values[1])
		if err != nil || h < openHour || h > closeHour {
			continue
		}
		counts, ok := byDate[row.Values[0]]
		if !ok {
			counts = make([]int, 24)
			byDate[row.Values[0]] = counts
		}
		counts[h] += row.Count
	}

	out := make([]DayHour, 7)
	for i := range out {
		day := start.AddDate(0, 0, i)
		date := day.Format(dateLayout)
		out[i] = DayHour{Date: date, Weekday: day.Weekday().String()}
		counts := byDate[date]
		if sum(counts) == 0 {
			continue
		}
		out[i].Hour, out[i].Count = pick(counts)
	}
	return out, nil
}

// DailyTraffic returns one entry per calendar day in r, zero-filled. r must
// be bounded on both sides.
func (s *Service) DailyTraffic(ctx context.Context, r storage.Range) ([]DayCount, error) {
	if r.From.IsZero() || r.To.IsZero() {
		return nil, fmt.Errorf("%w: daily traffic needs a bounded period", ErrInvalidPeriod)
	}
	rows, err := s.count(ctx, r, storage.DimDate)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]int, len(rows))
	for _, row := range rows {
		byDate[row.Values[0]] += row.Count
	}
	var out []DayCount
	for d := truncateDay(r.From); d.Before(r.To); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		out = append(out, DayCount{Date: date, Weekday: d.Weekday().String(), Count: byDate[date]})
	}
	return out, nil
}

// BusiestDay picks the first day with the highest count.
func BusiestDay(days []DayCount) (DayCount, bool) {
	if len(days) == 0 {
		return DayCount{}, false
	}
	best := days[0]
	for _, d := range days[1:] {
		if d.Count > best.Count {
			best = d
		}
	}
	return best, true
}

// LeastBusyDay picks the first day with the lowest count.
func LeastBusyDay(days []DayCount) (DayCount, bool) {
	if len(days) == 0 {
		return DayCount{}, false
	}
	best := days[0]
	for _, d := range days[1:] {
		if d.Count < best.Count {
			best = d
		}
	}
	return best, true
}

// GenderDistribution counts visits per gender.
func (s *Service) GenderDistribution(ctx context.Context, r storage.Range) (map[string]int, error) {
	rows, err := s.count(ctx, r, storage.DimGender)
	if err != nil {
		return nil, err
	}
	out := map[string]int{string(models.GenderMale): 0, string(models.GenderFemale): 0}
	for _, row := range rows {
		out[row.Values[0]] += row.Count
	}
	return out, nil
}

var ageBuckets = []string{"0-18", "19-25", "26-35", "36-50", "51+"}

// ageBucket places an estimated range. Ranges straddling bucket edges are
// not counted.
func ageBucket(low, high int) (string, bool) {
	switch {
	case high <= 18:
		return "0-18", true
	case low >= 19 && high <= 25:
		return "19-25", true
	case low >= 26 && high <= 35:
		return "26-35", true
	case low >= 36 && high <= 50:
		return "36-50", true
	case low >= 51:
		return "51+", true
	}
	return "", false
}

// AgeDistribution counts visits per age bucket.
func (s *Service) AgeDistribution(ctx context.Context, r storage.Range) ([]AgeBucket, error) {
	rows, err := s.count(ctx, r, storage.DimAgeLow, storage.DimAgeHigh)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(ageBuckets))
	for _, row := range rows {
		low, high, ok := parseAges(row.Values[0], row.Values[1])
		if !ok {
			continue
		}
		if b, ok := ageBucket(low, high); ok {
			counts[b] += row.Count
		}
	}
	out := make([]AgeBucket, len(ageBuckets))
	for i, b := range ageBuckets {
		out[i] = AgeBucket{Bucket: b, Count: counts[b]}
	}
	return out, nil
}

// EmotionRanking ranks primary emotions by frequency.
func (s *Service) EmotionRanking(ctx context.Context, r storage.Range) ([]Ranked, error) {
	return s.ranking(ctx, r, storage.DimEmotion)
}

// CategoryRanking ranks product categories by visits. topN <= 0 returns all.
func (s *Service) CategoryRanking(ctx context.Context, r storage.Range, topN int) ([]Ranked, error) {
	ranked, err := s.ranking(ctx, r, storage.DimCategory)
	if err != nil {
		return nil, err
	}
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// LeastVisitedCategory returns the category with the fewest visits.
func (s *Service) LeastVisitedCategory(ctx context.Context, r storage.Range) (Ranked, bool, error) {
	ranked, err := s.ranking(ctx, r, storage.DimCategory)
	if err != nil || len(ranked) == 0 {
		return Ranked{}, false, err
	}
	return ranked[len(ranked)-1], true, nil
}

func (s *Service) ranking(ctx context.Context, r storage.Range, dim storage.Dimension) ([]Ranked, error) {
	rows, err := s.count(ctx, r, dim)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Values[0]] += row.Count
	}
	return rank(counts), nil
}

// TopHappyCategories ranks categories by how many visits showed HAPPY.
func (s *Service) TopHappyCategories(ctx context.Context, r storage.Range) ([]Ranked, error) {
	rows, err := s.count(ctx, r, storage.DimCategory, storage.DimEmotion)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, row := range rows {
		if row.Values[1] == emotionHappy {
			counts[row.Values[0]] += row.Count
		}
	}
	return rank(counts), nil
}

// PreferredCategoryByGender returns each gender's most visited category.
func (s *Service) PreferredCategoryByGender(ctx context.Context, r storage.Range) (map[string]Ranked, error) {
	rows, err := s.count(ctx, r, storage.DimGender, storage.DimCategory)
	if err != nil {
		return nil, err
	}
	per := nested(rows)
	out := make(map[string]Ranked, len(per))
	for gender, cats := range per {
		if ranked := rank(cats); len(ranked) > 0 {
			out[gender] = ranked[0]
		}
	}
	return out, nil
}

// EmotionPercentagesByCategory returns, per category, the share of each
// emotion in percent rounded to two decimals.
func (s *Service) EmotionPercentagesByCategory(ctx context.Context, r storage.Range) (map[string]map[string]float64, error) {
	rows, err := s.count(ctx, r, storage.DimCategory, storage.DimEmotion)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]float64)
	for category, emotions := range nested(rows) {
		total := 0
		for _, n := range emotions {
			total += n
		}
		pct := make(map[string]float64, len(emotions))
		for e, n := range emotions {
			pct[e] = round2(float64(n) * 100 / float64(total))
		}
		out[category] = pct
	}
	return out, nil
}

// EmotionalDifferencesByCategory returns the predominant emotion of each
// gender within each category.
func (s *Service) EmotionalDifferencesByCategory(ctx context.Context, r storage.Range) (map[string]map[string]Predominant, error) {
	rows, err := s.count(ctx, r, storage.DimCategory, storage.DimGender, storage.DimEmotion)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]map[string]map[string]int)
	for _, row := range rows {
		cat, gender, emotion := row.Values[0], row.Values[1], row.Values[2]
		if counts[cat] == nil {
			counts[cat] = make(map[string]map[string]int)
		}
		if counts[cat][gender] == nil {
			counts[cat][gender] = make(map[string]int)
		}
		counts[cat][gender][emotion] += row.Count
	}
	out := make(map[string]map[string]Predominant, len(counts))
	for cat, genders := range counts {
		out[cat] = make(map[string]Predominant, len(genders))
		for gender, emotions := range genders {
			top := rank(emotions)[0]
			out[cat][gender] = Predominant{Emotion: top.Label, Count: top.Count}
		}
	}
	return out, nil
}

// AgeGenderByCategory lists, per category and gender, the midpoint ages
// seen ordered by frequency.
func (s *Service) AgeGenderByCategory(ctx context.Context, r storage.Range) (map[string]map[string][]AgeCount, error) {
	rows, err := s.count(ctx, r, storage.DimCategory, storage.DimGender, storage.DimAgeLow, storage.DimAgeHigh)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]map[string]map[int]int)
	for _, row := range rows {
		low, high, ok := parseAges(row.Values[2], row.Values[3])
		if !ok {
			continue
		}
		cat, gender := row.Values[0], row.Values[1]
		if counts[cat] == nil {
			counts[cat] = make(map[string]map[int]int)
		}
		if counts[cat][gender] == nil {
			counts[cat][gender] = make(map[int]int)
		}
		counts[cat][gender][(low+high)/2] += row.Count
	}

	out := make(map[string]map[string][]AgeCount, len(counts))
	for cat, genders := range counts {
		out[cat] = make(map[string][]AgeCount, len(genders))
		for gender, ages := range genders {
			list := make([]AgeCount, 0, len(ages))
			for age, n := range ages {
				list = append(list, AgeCount{Age: age, Count: n})
			}
			sort.Slice(list, func(i, j int) bool {
				if list[i].Count != list[j].Count {
					return list[i].Count > list[j].Count
				}
				return list[i].Age < list[j].Age
			})
			out[cat][gender] = list
		}
	}
	return out, nil
}

// EmotionComparison compares HAPPY and SAD visits per weekday, Monday
// first. Equal counts report TIE.
func (s *Service) EmotionComparison(ctx context.Context, r storage.Range) ([]WeekdayEmotion, error) {
	rows, err := s.count(ctx, r, storage.DimWeekday, storage.DimEmotion)
	if err != nil {
		return nil, err
	}
	var happy, sad [8]int // ISO weekday 1..7
	for _, row := range rows {
		dow, err := strconv.Atoi(row.Values[0])
		if err != nil || dow < 1 || dow > 7 {
			continue
		}
		switch row.Values[1] {
		case emotionHappy:
			happy[dow] += row.Count
		case emotionSad:
			sad[dow] += row.Count
		}
	}
	out := make([]WeekdayEmotion, 0, 7)
	for dow := 1; dow <= 7; dow++ {
		p := Predominant{Emotion: emotionTie, Count: happy[dow]}
		switch {
		case happy[dow] > sad[dow]:
			p.Emotion = emotionHappy
		case sad[dow] > happy[dow]:
			p = Predominant{Emotion: emotionSad, Count: sad[dow]}
		}
		out = append(out, WeekdayEmotion{Weekday: time.Weekday(dow % 7).String(), Predominant: p})
	}
	return out, nil
}

func nested(rows []storage.GroupCount) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, row := range rows {
		outer, inner := row.Values[0], row.Values[1]
		if out[outer] == nil {
			out[outer] = make(map[string]int)
		}
		out[outer][inner] += row.Count
	}
	return out
}

// rank orders by count descending, then label ascending.
func rank(counts map[string]int) []Ranked {
	out := make([]Ranked, 0, len(counts))
	for label, n := range counts {
		out = append(out, Ranked{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func parseAges(lowS, highS string) (int, int, bool) {
	low, err := strconv.Atoi(lowS)
	if err != nil {
		return 0, 0, false
	}
	high, err := strconv.Atoi(highS)
	if err != nil {
		return 0, 0, false
	}
	return low, high, true
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
