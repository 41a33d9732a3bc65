package store

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/gridrock/gridpool/internal/model"
)

// Property: for every proxy record, read-after-write returns the written
// fields merged with the generated id, across scalar, set, and bool kinds.

func genProxyType() gopter.Gen {
	return gen.OneConstOf(model.ProxySOCKS5, model.ProxyHTTP)
}

func genTags() gopter.Gen {
	return gen.SliceOfN(3, gen.RegexMatch("[a-z]{1,8}")).Map(func(tags []string) []string {
		return model.NormalizeTags(tags)
	})
}

func genProxy() gopter.Gen {
	return gopter.CombineGens(
		genProxyType(),
		gen.RegexMatch("[a-z0-9.-]{1,20}"),
		gen.IntRange(1, 65535),
		genTags(),
		gen.Bool(),
		gen.Bool(),
	).Map(func(vals []interface{}) model.Proxy {
		return model.Proxy{
			Type:   vals[0].(model.ProxyType),
			Host:   vals[1].(string),
			Port:   vals[2].(int),
			Tags:   vals[3].([]string),
			Active: vals[4].(bool),
			Shared: vals[5].(bool),
		}
	})
}

func TestProxyRecordRoundTripProperty(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	counter := 0

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("read after write returns the written proxy", prop.ForAll(
		func(p model.Proxy) bool {
			counter++
			p.ID = fmt.Sprintf("proxy_%06d", counter)
			if err := st.Write(ctx, model.ProxySchema, p.ID, p.Record()); err != nil {
				return false
			}
			rec, ok, err := st.Read(ctx, model.ProxySchema, p.ID)
			if err != nil || !ok {
				return false
			}
			return reflect.DeepEqual(model.ProxyFromRecord(rec), p)
		},
		genProxy(),
	))

	properties.TestingRun(t)
}

func TestTagSupersetProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a set always contains its own subsets", prop.ForAll(
		func(tags []string) bool {
			normalized := model.NormalizeTags(tags)
			for i := range normalized {
				if !model.HasTags(normalized, normalized[:i]) {
					return false
				}
			}
			return model.HasTags(normalized, normalized)
		},
		genTags(),
	))

	properties.Property("a missing tag breaks the superset", prop.ForAll(
		func(tags []string) bool {
			normalized := model.NormalizeTags(tags)
			return !model.HasTags(normalized, append(append([]string(nil), normalized...), "missing-tag"))
		},
		genTags(),
	))

	properties.TestingRun(t)
}
