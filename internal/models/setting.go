package models

// Setting is one runtime-tunable configuration document. Values are read
// through the settings service, which caches them in Redis.
type Setting struct {
	Key    string      `bson:"key" json:"key"`
	Value  interface{} `bson:"value" json:"value"`
	Public bool        `bson:"public" json:"public"`
}

// RateLimitSetting overrides token bucket parameters for one endpoint.
type RateLimitSetting struct {
	BucketSize      int `bson:"bucket_size" json:"bucket_size"`
	TokenRefillRate int `bson:"token_refill_rate" json:"token_refill_rate"` // tokens per second
}
