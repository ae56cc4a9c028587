package models

import "time"

// EST is the market timezone of the upstream feed. MISO publishes all
// market data in EST year-round, without daylight saving, so a fixed
// offset is correct where a named location would not be.
var EST = time.FixedZone("EST", -5*60*60)
