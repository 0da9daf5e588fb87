package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"srtplink/config"
)

// TestChangeDetectionLogic tests the core change detection logic directly.
func TestChangeDetectionLogic(t *testing.T) {
	t.Run("identical values should not republish", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int64(100)

		cacheKey := "plc1/tag1"
		value := int64(100)
		force := false

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if shouldPublish {
			t.Error("identical value should not republish")
		}
	})

	t.Run("different values should republish", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int64(100)

		cacheKey := "plc1/tag1"
		value := int64(200)
		force := false

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if !shouldPublish {
			t.Error("different value should republish")
		}
	})

	t.Run("force flag should override change detection", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int64(100)

		cacheKey := "plc1/tag1"
		value := int64(100)
		force := true

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if !shouldPublish {
			t.Error("force flag should override change detection")
		}
	})

	t.Run("new key should always publish", func(t *testing.T) {
		cache := make(map[string]interface{})

		cacheKey := "plc1/tag1"
		force := false

		_, exists := cache[cacheKey]
		shouldPublish := !exists || force

		if !shouldPublish {
			t.Error("new key should always publish")
		}
	})

	t.Run("different PLCs are tracked separately", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int64(100)

		// Different PLC, same tag and value
		cacheKey := "plc2/tag1"

		_, exists := cache[cacheKey]
		shouldPublish := !exists

		if !shouldPublish {
			t.Error("different PLCs should be tracked separately")
		}
	})

	t.Run("different tags are tracked separately", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int64(100)

		// Same PLC, different tag
		cacheKey := "plc1/tag2"

		_, exists := cache[cacheKey]
		shouldPublish := !exists

		if !shouldPublish {
			t.Error("different tags should be tracked separately")
		}
	})
}

// TestChangeDetectionTypes tests change detection across different data types.
func TestChangeDetectionTypes(t *testing.T) {
	tests := []struct {
		name      string
		value1    interface{}
		value2    interface{}
		shouldPub bool
		desc      string
	}{
		{"int64_same", int64(100), int64(100), false, "same int64"},
		{"int64_diff", int64(100), int64(200), true, "different int64"},
		{"uint64_same", uint64(50), uint64(50), false, "same uint64"},
		{"uint64_diff", uint64(50), uint64(60), true, "different uint64"},

		{"bool_same_true", true, true, false, "same bool true"},
		{"bool_same_false", false, false, false, "same bool false"},
		{"bool_diff", true, false, true, "different bool"},

		{"bool_slice_same", []bool{true, false}, []bool{true, false}, false, "same bit array"},
		{"bool_slice_diff", []bool{true, false}, []bool{true, true}, true, "different bit array"},
		{"int_slice_same", []int64{1, 2, 3}, []int64{1, 2, 3}, false, "same word array"},
		{"int_slice_diff", []int64{1, 2, 3}, []int64{1, 2, 4}, true, "different word array"},

		{"zero_int", int64(0), int64(0), false, "same zero"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cache := make(map[string]interface{})
			cache["plc/tag"] = tc.value1

			lastValue := cache["plc/tag"]
			shouldPublish := fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", tc.value2)

			if shouldPublish != tc.shouldPub {
				t.Errorf("%s: expected publish=%v, got %v", tc.desc, tc.shouldPub, shouldPublish)
			}
		})
	}
}

// TestPublisher_MessagePayload tests that the JSON message payload is correct.
func TestPublisher_MessagePayload(t *testing.T) {
	t.Run("message includes all fields", func(t *testing.T) {
		msg := TagMessage{
			Topic:     "srtplink",
			PLC:       "plc1",
			Tag:       "Counter",
			Address:   "%R100",
			Value:     int64(100),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}

		requiredFields := []string{"topic", "plc", "tag", "address", "value", "timestamp"}
		for _, field := range requiredFields {
			if _, ok := decoded[field]; !ok {
				t.Errorf("missing required field: %s", field)
			}
		}
	})

	t.Run("alias message carries the raw address", func(t *testing.T) {
		msg := TagMessage{
			Topic:     "srtplink",
			PLC:       "rx3i",
			Tag:       "motor_speed", // alias
			Address:   "%R100",       // raw address
			Value:     int64(1750),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}

		if decoded["tag"] != "motor_speed" {
			t.Errorf("expected tag 'motor_speed', got %v", decoded["tag"])
		}
		if decoded["address"] != "%R100" {
			t.Errorf("expected address '%%R100', got %v", decoded["address"])
		}
	})

	t.Run("empty address is omitted", func(t *testing.T) {
		msg := TagMessage{
			Topic:     "srtplink",
			PLC:       "rx3i",
			Tag:       "%R100",
			Address:   "",
			Value:     int64(100),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}

		if _, ok := decoded["address"]; ok {
			t.Error("address should be omitted when empty")
		}
	})
}

// TestPublisher_ValueAccuracy tests that published values match source values exactly.
func TestPublisher_ValueAccuracy(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"word_positive", int64(32767)},
		{"word_negative", int64(-32768)},
		{"word_zero", int64(0)},
		{"byte_max", uint64(255)},
		{"bool_true", true},
		{"bool_false", false},
		{"word_array", []int64{1, -1, 258}},
		{"bit_array", []bool{true, false, true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := TagMessage{
				Topic:     "srtplink",
				PLC:       "test",
				Tag:       "tag",
				Value:     tc.value,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}

			var decoded TagMessage
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}

			// JSON numbers come back as float64
			switch v := tc.value.(type) {
			case int64:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("int64 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case uint64:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("uint64 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case bool:
				if decoded.Value.(bool) != v {
					t.Errorf("bool value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case []int64:
				arr, ok := decoded.Value.([]interface{})
				if !ok || len(arr) != len(v) {
					t.Fatalf("array value mismatch: expected %v, got %v", v, decoded.Value)
				}
				for i, e := range v {
					if arr[i].(float64) != float64(e) {
						t.Errorf("array[%d] mismatch: expected %v, got %v", i, e, arr[i])
					}
				}
			case []bool:
				arr, ok := decoded.Value.([]interface{})
				if !ok || len(arr) != len(v) {
					t.Fatalf("array value mismatch: expected %v, got %v", v, decoded.Value)
				}
				for i, e := range v {
					if arr[i].(bool) != e {
						t.Errorf("array[%d] mismatch: expected %v, got %v", i, e, arr[i])
					}
				}
			}
		})
	}
}

// TestConcurrentCacheAccess tests thread safety of cache operations.
func TestConcurrentCacheAccess(t *testing.T) {
	cache := make(map[string]interface{})
	var mu sync.RWMutex

	var wg sync.WaitGroup
	plcs := []string{"plc1", "plc2", "plc3"}
	tags := []string{"tag1", "tag2", "tag3"}

	// Write all combinations concurrently
	for _, plc := range plcs {
		for _, tag := range tags {
			wg.Add(1)
			go func(plc, tag string) {
				defer wg.Done()
				key := fmt.Sprintf("%s/%s", plc, tag)

				mu.Lock()
				cache[key] = int64(100)
				mu.Unlock()
			}(plc, tag)
		}
	}

	wg.Wait()

	mu.RLock()
	defer mu.RUnlock()

	expectedKeys := len(plcs) * len(tags)
	if len(cache) != expectedKeys {
		t.Errorf("expected %d cache entries, got %d", expectedKeys, len(cache))
	}
}

// TestPublisher_NewPublisher tests publisher creation.
func TestPublisher_NewPublisher(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:    "test",
		Broker:  "localhost",
		Port:    1883,
		Enabled: true,
	}
	pub := NewPublisher(cfg)

	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if pub.Name() != "test" {
		t.Errorf("expected name 'test', got %q", pub.Name())
	}
	if pub.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

// TestPublisher_Address tests address formatting.
func TestPublisher_Address(t *testing.T) {
	t.Run("tcp address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   1883,
			UseTLS: false,
		}
		pub := NewPublisher(cfg)
		addr := pub.Address()

		if addr != "tcp://localhost:1883" {
			t.Errorf("expected 'tcp://localhost:1883', got %q", addr)
		}
	})

	t.Run("ssl address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   8883,
			UseTLS: true,
		}
		pub := NewPublisher(cfg)
		addr := pub.Address()

		if addr != "ssl://localhost:8883" {
			t.Errorf("expected 'ssl://localhost:8883', got %q", addr)
		}
	})

	t.Run("topic layout", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker:    "localhost",
			Port:      1883,
			RootTopic: "srtplink",
		}
		pub := NewPublisher(cfg)

		topic := pub.BuildTopic("rx3i", "motor_speed")
		if topic != "srtplink/rx3i/tags/motor_speed" {
			t.Errorf("unexpected topic: %q", topic)
		}
	})
}
