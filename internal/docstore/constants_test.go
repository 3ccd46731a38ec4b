package docstore

const (
	testCollection = "pantry-test"
	testRedisEnv   = "PANTRY_TEST_REDIS_ADDR"
)
