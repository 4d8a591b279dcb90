package zipfile

import (
	"time"
)

// MS-DOS timestamps have two-second resolution and cover 1980-01-01
// through 2107-12-31. Times outside the range clamp to the nearest bound.
const (
	dosTimeEarliest uint32 = 0x00210000 // 1980-01-01 00:00:00
	dosTimeLatest   uint32 = 0xFF9FBF7D // 2107-12-31 23:59:58
)

// The NTFS epoch (1601-01-01) precedes the Unix epoch by this many
// 100-nanosecond intervals.
const ntfsEpochOffset = 116444736000000000

// timeToDosTime converts a time.Time to a packed MS-DOS date and time,
// clamping out-of-range values.
// See: https://msdn.microsoft.com/en-us/library/ms724274(v=VS.85).aspx
func timeToDosTime(t time.Time) uint32 {
	t = t.Local()
	if t.Year() < 1980 {
		return dosTimeEarliest
	}
	if t.Year() > 2107 {
		return dosTimeLatest
	}
	fDate := uint32(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime := uint32(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return fDate<<16 | fTime
}

// dosTimeToTime converts a packed MS-DOS date and time to a time.Time in
// the local timezone, matching how the timestamp was encoded.
func dosTimeToTime(dosTime uint32) time.Time {
	dosDate := uint16(dosTime >> 16)
	t := uint16(dosTime)
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(t>>11),
		int(t>>5&0x3f),
		int(t&0x1f*2),
		0,
		time.Local)
}

// timeToNtfsTime converts a time.Time to the number of 100-nanosecond
// intervals since the NTFS epoch.
func timeToNtfsTime(t time.Time) uint64 {
	return uint64(t.Unix()*1e7 + int64(t.Nanosecond())/100 + ntfsEpochOffset)
}

// ntfsTimeToTime converts an NTFS timestamp to a time.Time.
func ntfsTimeToTime(ts uint64) time.Time {
	d := int64(ts) - ntfsEpochOffset
	return time.Unix(d/1e7, d%1e7*100).UTC()
}
