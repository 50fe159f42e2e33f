package routetable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fixture = `server:
  port: 8765
eureka:
  client:
    serviceUrl:
      defaultZone: http://registry:8761/eureka/
zuul:
  ignored-services: '*'
  routes:
    redirect_pay_to_svc-old:
      path: /orders/pay/**
      url: http://svc-old:8080/pay/
    redirect_list_to_svc-old:
      path: /orders/list/**
      url: http://svc-old:8080/list/
    redirect_auth_to_users-2:
      path: /users/auth/**
      url: http://users-2:9000/auth/
`

func section(t *testing.T, data []byte, key string) any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc[key]
}

func TestParse(t *testing.T) {
	t.Run("reads routes in order", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)

		routes := tbl.Routes()
		require.Len(t, routes, 3)
		assert.Equal(t, "redirect_pay_to_svc-old", routes[0].Key)
		assert.Equal(t, "/orders/pay/**", routes[0].Path)
		assert.Equal(t, "http://svc-old:8080/pay/", routes[0].URL)
		assert.Equal(t, "redirect_auth_to_users-2", routes[2].Key)
	})

	t.Run("empty input bootstraps", func(t *testing.T) {
		tbl, err := Parse(nil, "")
		require.NoError(t, err)
		assert.Empty(t, tbl.Routes())
	})

	t.Run("section without routes bootstraps", func(t *testing.T) {
		tbl, err := Parse([]byte("zuul:\n  prefix: /api\n"), "")
		require.NoError(t, err)
		assert.Empty(t, tbl.Routes())
	})

	t.Run("legacy empty values load as tombstones", func(t *testing.T) {
		tbl, err := Parse([]byte("zuul:\n  routes:\n    redirect_a_to_b: ''\n"), "")
		require.NoError(t, err)
		r, ok := tbl.Route("redirect_a_to_b")
		require.True(t, ok)
		assert.True(t, r.Tombstone)
	})

	t.Run("rejects non-mapping root", func(t *testing.T) {
		_, err := Parse([]byte("- a\n- b\n"), "")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindConfigIO))
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("zuul: [\n"), "")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindConfigIO))
	})

	t.Run("rejects scalar routes", func(t *testing.T) {
		_, err := Parse([]byte("zuul:\n  routes: nope\n"), "")
		require.Error(t, err)
	})
}

func TestAddRoute(t *testing.T) {
	t.Run("bootstraps routes section on a file without one", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "zuul.yml")
		require.NoError(t, os.WriteFile(path, []byte("spring:\n  application:\n    name: gateway\n"), 0o644))

		tbl, err := Load(path, "")
		require.NoError(t, err)
		r := tbl.AddRoute("orders", "checkout", "host2", 8080)
		require.NoError(t, tbl.Persist(path))

		assert.Equal(t, "redirect_checkout_to_host2", r.Key)

		reloaded, err := Load(path, "")
		require.NoError(t, err)
		got, ok := reloaded.Route("redirect_checkout_to_host2")
		require.True(t, ok)
		assert.Equal(t, "/orders/checkout/**", got.Path)
		assert.Equal(t, "http://host2:8080/checkout/", got.URL)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"application": map[string]any{"name": "gateway"}}, section(t, data, "spring"))
	})

	t.Run("upsert keeps one route per key", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)

		tbl.AddRoute("orders", "pay", "svc-old", 9090)
		tbl.AddRoute("orders", "pay", "svc-old", 9091)

		routes := tbl.Routes()
		require.Len(t, routes, 3)
		assert.Equal(t, "redirect_pay_to_svc-old", routes[0].Key)
		assert.Equal(t, "http://svc-old:9091/pay/", routes[0].URL)
	})

	t.Run("leaves unrelated routes and sections unchanged", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)
		tbl.AddRoute("orders", "checkout", "host2", 8080)

		out, err := tbl.Encode()
		require.NoError(t, err)

		for _, key := range []string{"server", "eureka"} {
			assert.Equal(t, section(t, []byte(fixture), key), section(t, out, key), key)
		}

		reloaded, err := Parse(out, "")
		require.NoError(t, err)
		before, err := Parse([]byte(fixture), "")
		require.NoError(t, err)
		assert.Equal(t, append(before.Routes(), domain.Route{
			Key:  "redirect_checkout_to_host2",
			Path: "/orders/checkout/**",
			URL:  "http://host2:8080/checkout/",
		}), reloaded.Routes())

		zuul := section(t, out, "zuul").(map[string]any)
		assert.Equal(t, "*", zuul["ignored-services"])
	})

	t.Run("encoding an unchanged table is stable", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)
		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.Equal(t, fixture, string(out))
	})
}

const commented = `spring:
    application:
        name: gw   # keep
# gateway routes
zuul:
    ignored-services: '*'   # all
    routes:
        # payments
        redirect_pay_to_svc-old:
            path: /orders/pay/**
            url: http://svc-old:8080/pay/
        redirect_auth_to_users-2:
            path: /users/auth/**
            url: http://users-2:9000/auth/

management:
    endpoints:
        web:
            exposure:
                include: refresh   # actuator
`

func TestEncode(t *testing.T) {
	t.Run("only the routes block is rewritten", func(t *testing.T) {
		tbl, err := Parse([]byte(commented), "")
		require.NoError(t, err)
		tbl.RemoveRoutesMatching("svc-old")
		tbl.AddRoute("orders", "checkout", "host2", 8080)

		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.Equal(t, `spring:
    application:
        name: gw   # keep
# gateway routes
zuul:
    ignored-services: '*'   # all
    routes:
        redirect_auth_to_users-2:
            path: /users/auth/**
            url: http://users-2:9000/auth/
        redirect_checkout_to_host2:
            path: /orders/checkout/**
            url: http://host2:8080/checkout/

management:
    endpoints:
        web:
            exposure:
                include: refresh   # actuator
`, string(out))
	})

	t.Run("unchanged table is byte for byte", func(t *testing.T) {
		tbl, err := Parse([]byte(commented), "")
		require.NoError(t, err)
		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.Equal(t, commented, string(out))
	})

	t.Run("missing section is appended in the file's indentation", func(t *testing.T) {
		in := "spring:\n    application:\n        name: gw   # keep\n"
		tbl, err := Parse([]byte(in), "")
		require.NoError(t, err)
		tbl.AddRoute("orders", "checkout", "host2", 8080)

		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.Equal(t, in+`zuul:
    routes:
        redirect_checkout_to_host2:
            path: /orders/checkout/**
            url: http://host2:8080/checkout/
`, string(out))
	})

	t.Run("routes are added to a section that has none", func(t *testing.T) {
		in := "zuul:\n  prefix: /api   # edge\n\nserver:\n  port: 8765\n"
		tbl, err := Parse([]byte(in), "")
		require.NoError(t, err)
		tbl.AddRoute("orders", "pay", "b", 80)

		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.Equal(t, "zuul:\n  prefix: /api   # edge\n  routes:\n    redirect_pay_to_b:\n      path: /orders/pay/**\n      url: http://b:80/pay/\n\nserver:\n  port: 8765\n", string(out))
	})

	t.Run("empty section is filled in place", func(t *testing.T) {
		in := "zuul:\nserver:\n  port: 8765\n"
		tbl, err := Parse([]byte(in), "")
		require.NoError(t, err)
		tbl.AddRoute("orders", "pay", "b", 80)

		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.Equal(t, "zuul:\n  routes:\n    redirect_pay_to_b:\n      path: /orders/pay/**\n      url: http://b:80/pay/\nserver:\n  port: 8765\n", string(out))
	})
}

func TestPutForPath(t *testing.T) {
	t.Run("replaces the route to the earlier target in place", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)

		next := domain.NewRoute(domain.Endpoint{ServiceID: "orders", Function: "pay"}, domain.Backend{Host: "svc-new", Port: 8080})
		replaced, changed := tbl.PutForPath(next)
		assert.True(t, changed)
		assert.Equal(t, []string{"redirect_pay_to_svc-old"}, replaced)

		routes := tbl.Routes()
		require.Len(t, routes, 3)
		assert.Equal(t, next, routes[0])
		_, ok := tbl.Route("redirect_pay_to_svc-old")
		assert.False(t, ok)

		replaced, changed = tbl.PutForPath(next)
		assert.False(t, changed)
		assert.Empty(t, replaced)
	})

	t.Run("drops every other route serving the path", func(t *testing.T) {
		tbl, err := Parse([]byte("zuul:\n  routes:\n    redirect_pay_to_b:\n      path: /orders/pay/**\n      url: http://b:80/pay/\n    redirect_pay_to_c:\n      path: /orders/pay/**\n      url: http://c:80/pay/\n"), "")
		require.NoError(t, err)

		next := domain.NewRoute(domain.Endpoint{ServiceID: "orders", Function: "pay"}, domain.Backend{Host: "c", Port: 80})
		replaced, changed := tbl.PutForPath(next)
		assert.True(t, changed)
		assert.Equal(t, []string{"redirect_pay_to_b"}, replaced)
		assert.Equal(t, []domain.Route{next}, tbl.Routes())
	})

	t.Run("new path is appended", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)

		replaced, changed := tbl.PutForPath(domain.NewRoute(domain.Endpoint{ServiceID: "orders", Function: "checkout"}, domain.Backend{Host: "host2", Port: 8080}))
		assert.True(t, changed)
		assert.Empty(t, replaced)
		assert.Len(t, tbl.Routes(), 4)
	})
}

func TestRemoveRoutesMatching(t *testing.T) {
	t.Run("deletes matching keys", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)

		removed := tbl.RemoveRoutesMatching("svc-old")
		assert.ElementsMatch(t, []string{"redirect_pay_to_svc-old", "redirect_list_to_svc-old"}, removed)

		out, err := tbl.Encode()
		require.NoError(t, err)
		assert.NotContains(t, string(out), "svc-old")

		reloaded, err := Parse(out, "")
		require.NoError(t, err)
		require.Len(t, reloaded.Routes(), 1)
		assert.Equal(t, "redirect_auth_to_users-2", reloaded.Routes()[0].Key)
	})

	t.Run("is idempotent", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)
		tbl.RemoveRoutesMatching("svc-old")
		once, err := tbl.Encode()
		require.NoError(t, err)

		again, err := Parse(once, "")
		require.NoError(t, err)
		assert.Empty(t, again.RemoveRoutesMatching("svc-old"))
		twice, err := again.Encode()
		require.NoError(t, err)

		assert.Equal(t, string(once), string(twice))
	})

	t.Run("empty substring removes nothing", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)
		assert.Empty(t, tbl.RemoveRoutesMatching(""))
		assert.Len(t, tbl.Routes(), 3)
	})

	t.Run("index stays consistent after removal", func(t *testing.T) {
		tbl, err := Parse([]byte(fixture), "")
		require.NoError(t, err)
		tbl.RemoveRoutesMatching("pay")
		tbl.AddRoute("users", "auth", "users-2", 9001)

		routes := tbl.Routes()
		require.Len(t, routes, 2)
		assert.Equal(t, "http://users-2:9001/auth/", routes[1].URL)
	})
}

func TestReferences(t *testing.T) {
	tbl, err := Parse([]byte(fixture), "")
	require.NoError(t, err)

	assert.True(t, tbl.References("svc-old"))
	assert.True(t, tbl.References("users-2"))
	assert.False(t, tbl.References("users"))
	assert.False(t, tbl.References("registry"))
}
