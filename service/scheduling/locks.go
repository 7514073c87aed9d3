package scheduling

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ResourceLocker serializes conflict-check-and-commit sequences per booked
// resource. Two concurrent bookings for the same instructor (or vehicle) on
// the same date would otherwise both pass their conflict check before either
// commits.
type ResourceLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewResourceLocker() *ResourceLocker {
	return &ResourceLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *ResourceLocker) mutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Lock acquires the named key and returns its release function.
func (l *ResourceLocker) Lock(key string) func() {
	m := l.mutex(key)
	m.Lock()
	return m.Unlock
}

// LockKeys acquires the given keys in sorted order, skipping duplicates, so
// that holders of overlapping key sets cannot deadlock. The returned function
// releases them in reverse order.
func (l *ResourceLocker) LockKeys(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		releases = append(releases, l.Lock(key))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// LockSlot acquires every resource key the slot books.
func (l *ResourceLocker) LockSlot(slot AppointmentSlot) func() {
	keys := []string{ResourceKey(KindInstructor, slot.InstructorID, slot.Date)}
	if slot.VehicleID != nil {
		keys = append(keys, ResourceKey(KindVehicle, *slot.VehicleID, slot.Date))
	}
	return l.LockKeys(keys...)
}

// ResourceKey names the lock for one resource on one date.
func ResourceKey(kind ResourceKind, resourceID uint, date time.Time) string {
	return fmt.Sprintf("%s/%d/%s", kind, resourceID, DateOnly(date).Format("2006-01-02"))
}

// FormKey names the lock serializing mutations of one session form.
func FormKey(formID uint) string {
	return fmt.Sprintf("form/%d", formID)
}

// AppointmentFormKey names the lock serializing creation of an appointment's
// session form, before the form has an id of its own.
func AppointmentFormKey(appointmentID uint) string {
	return fmt.Sprintf("form/appointment/%d", appointmentID)
}
