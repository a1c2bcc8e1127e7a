package availability

import (
	"time"

	"cloud.google.com/go/civil"
)

// Clock supplies the shop-local current date and time.
type Clock interface {
	Now() civil.DateTime
}

// ShopClock reads the wall clock in the shop's time zone.
type ShopClock struct {
	Location *time.Location
}

func (c ShopClock) Now() civil.DateTime {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return civil.DateTimeOf(time.Now().In(loc))
}

// FixedClock always returns the same moment.
type FixedClock civil.DateTime

func (c FixedClock) Now() civil.DateTime {
	return civil.DateTime(c)
}
