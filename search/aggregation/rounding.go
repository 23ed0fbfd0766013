package aggregation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// rounding 把值映射到所在槽位的起点
type rounding interface {
	round(v float64) float64
	// next 下一个槽位的起点
	next(key float64) float64
}

// fixedRounding floor((v-offset)/interval)*interval+offset
type fixedRounding struct {
	interval float64
	offset   float64
}

func (r fixedRounding) round(v float64) float64 {
	return math.Floor((v-r.offset)/r.interval)*r.interval + r.offset
}

// next 加半个间隔再取整，避免浮点误差导致停在同一个槽位
func (r fixedRounding) next(key float64) float64 {
	return r.round(key + 1.5*r.interval)
}

// calendarRounding 按时区的自然日/周/月/季/年取整，值为毫秒时间戳
type calendarRounding struct {
	unit   string
	loc    *time.Location
	offset float64
}

func (r calendarRounding) round(v float64) float64 {
	t := time.UnixMilli(int64(math.Floor(v - r.offset))).In(r.loc)
	return float64(r.truncate(t).UnixMilli()) + r.offset
}

func (r calendarRounding) next(key float64) float64 {
	t := time.UnixMilli(int64(key - r.offset)).In(r.loc)
	switch r.unit {
	case "d":
		t = t.AddDate(0, 0, 1)
	case "w":
		t = t.AddDate(0, 0, 7)
	case "M":
		t = t.AddDate(0, 1, 0)
	case "q":
		t = t.AddDate(0, 3, 0)
	case "y":
		t = t.AddDate(1, 0, 0)
	}
	return float64(r.truncate(t).UnixMilli()) + r.offset
}

func (r calendarRounding) truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	switch r.unit {
	case "w":
		day := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case "M":
		return time.Date(y, m, 1, 0, 0, 0, 0, r.loc)
	case "q":
		return time.Date(y, (m-1)/3*3+1, 1, 0, 0, 0, 0, r.loc)
	case "y":
		return time.Date(y, time.January, 1, 0, 0, 0, 0, r.loc)
	}
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

var (
	dateIntervalRegex = regexp.MustCompile(`^(\d+)(ms|s|m|h|d|w|M|q|y)$`)

	dateIntervalAliases = map[string]string{
		"second":  "1s",
		"minute":  "1m",
		"hour":    "1h",
		"day":     "1d",
		"week":    "1w",
		"month":   "1M",
		"quarter": "1q",
		"year":    "1y",
	}

	fixedUnits = map[string]float64{
		"ms": 1,
		"s":  float64(time.Second / time.Millisecond),
		"m":  float64(time.Minute / time.Millisecond),
		"h":  float64(time.Hour / time.Millisecond),
		"d":  float64(24 * time.Hour / time.Millisecond),
		"w":  float64(7 * 24 * time.Hour / time.Millisecond),
	}
)

// newDateRounding 解析 "1d"、"90m"、"month" 形式的间隔
//
// 1d、1w 和月/季/年按时区的自然边界取整，其余按固定毫秒数取整；月/季/年只支持 1 个单位
func newDateRounding(interval string, timeZone string, offset float64) (rounding, error) {
	if alias, ok := dateIntervalAliases[interval]; ok {
		interval = alias
	}
	m := dateIntervalRegex.FindStringSubmatch(interval)
	if m == nil {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}
	loc, err := loadLocation(timeZone)
	if err != nil {
		return nil, err
	}

	unit := m[2]
	switch unit {
	case "M", "q", "y":
		if n != 1 {
			return nil, fmt.Errorf("calendar interval %q must be a single unit", interval)
		}
		return calendarRounding{unit: unit, loc: loc, offset: offset}, nil
	case "d", "w":
		if n == 1 {
			return calendarRounding{unit: unit, loc: loc, offset: offset}, nil
		}
	}
	return fixedRounding{interval: float64(n) * fixedUnits[unit], offset: offset}, nil
}

func loadLocation(timeZone string) (*time.Location, error) {
	if timeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %v", timeZone, err)
	}
	return loc, nil
}

// parseDateOffset 解析 "+6h"、"-30m"、"1d" 形式的偏移，返回毫秒
func parseDateOffset(offset string) (float64, error) {
	if offset == "" {
		return 0, nil
	}
	sign := 1.0
	s := offset
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign, s = -1, s[1:]
	}
	if m := dateIntervalRegex.FindStringSubmatch(s); m != nil {
		if unitMs, ok := fixedUnits[m[2]]; ok {
			n, _ := strconv.Atoi(m[1])
			return sign * float64(n) * unitMs, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", offset)
	}
	return sign * float64(d.Milliseconds()), nil
}
