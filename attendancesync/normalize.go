package attendancesync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/models"
)

// Normalize coerces a device record into a PunchEvent. String timestamps are
// parsed as naive local time in loc; time values pass through unchanged.
// Status is left empty. Every failure wraps ErrMalformedEvent.
func Normalize(raw device.RawEvent, loc *time.Location) (PunchEvent, error) {
	if loc == nil {
		loc = time.Local
	}

	uid, err := toInt(raw.UID)
	if err != nil {
		return PunchEvent{}, fmt.Errorf("%w: uid: %v", ErrMalformedEvent, err)
	}
	userId, err := toUserID(raw.UserID)
	if err != nil {
		return PunchEvent{}, fmt.Errorf("%w: user_id: %v", ErrMalformedEvent, err)
	}
	ts, err := toTimestamp(raw.Timestamp, loc)
	if err != nil {
		return PunchEvent{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedEvent, err)
	}
	punch, err := toInt(raw.Punch)
	if err != nil {
		return PunchEvent{}, fmt.Errorf("%w: punch: %v", ErrMalformedEvent, err)
	}

	ev := PunchEvent{
		UID:       uid,
		UserID:    userId,
		Timestamp: ts,
		Punch:     punch,
	}
	if raw.Status != nil {
		status, err := toInt(raw.Status)
		if err != nil {
			return PunchEvent{}, fmt.Errorf("%w: status: %v", ErrMalformedEvent, err)
		}
		ev.DeviceStatus = &status
	}
	return ev, nil
}

func toTimestamp(v any, loc *time.Location) (time.Time, error) {
	var ts time.Time
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	case time.Time:
		ts = t
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("missing")
		}
		ts = *t
	case string:
		parsed, err := time.ParseInLocation(models.TimestampLayout, strings.TrimSpace(t), loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q is not %s", t, models.TimestampLayout)
		}
		ts = parsed
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
	if ts.IsZero() {
		return time.Time{}, fmt.Errorf("zero time")
	}
	return ts, nil
}

func toUserID(v any) (string, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", fmt.Errorf("empty")
		}
		return s, nil
	case device.FlexString:
		return toUserID(string(t))
	case nil:
		return "", fmt.Errorf("missing")
	default:
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing")
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case uint:
		if uint64(t) > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", t)
		}
		return int(t), nil
	case uint64:
		if t > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", t)
		}
		return int(t), nil
	case float32:
		return floatToInt(float64(t))
	case float64:
		return floatToInt(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t.String())
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(t)
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f >= 1<<63 || f < -(1<<63) {
		return 0, fmt.Errorf("%v overflows int", f)
	}
	return int(f), nil
}
