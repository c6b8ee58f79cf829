package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceBuilder_DuplicateEndpointIdentity(t *testing.T) {
	b := NewServiceBuilder("books", "http://books:8080")
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "GET", Path: "/books/{id}"}))

	err := b.AddEndpoint(ExposedEndpoint{Method: "get", Path: "/books/{bookId}/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	var dup *DuplicateIdentityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "endpoint", dup.Kind)
	assert.Equal(t, "books GET /books/{}", dup.Identity)
}

func TestServiceBuilder_SameRouteDifferentMethodIsAllowed(t *testing.T) {
	b := NewServiceBuilder("books", "")
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "GET", Path: "/books"}))
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "POST", Path: "/books"}))
	assert.Len(t, b.Endpoints(), 2)
}

func TestServiceBuilder_DuplicateCallIdentity(t *testing.T) {
	b := NewServiceBuilder("orders", "")
	call := ExternalCall{TargetHint: "books", Method: "GET", Path: "/books/{id}"}
	require.NoError(t, b.AddCall(call))
	assert.ErrorIs(t, b.AddCall(call), ErrDuplicateIdentity)
}

func TestServiceBuilder_ForcesOwnership(t *testing.T) {
	b := NewServiceBuilder("orders", "")
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Service: "someone-else", Method: "GET", Path: "/orders"}))
	require.NoError(t, b.AddCall(ExternalCall{Caller: "someone-else", TargetHint: "books", Method: "GET", Path: "/books"}))

	assert.Equal(t, "orders", b.Endpoints()[0].Service)
	assert.Equal(t, "orders", b.Calls()[0].Caller)
}

func TestBuild_IsIsolatedFromLaterChanges(t *testing.T) {
	b := NewServiceBuilder("books", "http://books")
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{
		Method:     "GET",
		Path:       "/books/{id}",
		Parameters: []Parameter{{Name: "id", Type: "Long", Source: ParamPath}},
		CallTree:   map[string][]string{"getBook": {"repo.find"}},
	}))
	m := b.Build()

	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "DELETE", Path: "/books/{id}"}))
	b.SetServiceURL("orders", "http://orders")
	assert.Len(t, m.Endpoints(), 1)
	assert.Empty(t, m.ServiceURLs())

	eps := m.Endpoints()
	eps[0].Parameters[0].Name = "mutated"
	eps[0].CallTree["getBook"][0] = "mutated"

	got, ok := m.Endpoint(EndpointID{Service: "books", Method: "GET", Path: "/books/{}"})
	require.True(t, ok)
	assert.Equal(t, "id", got.Parameters[0].Name)
	assert.Equal(t, "repo.find", got.CallTree["getBook"][0])
}

func TestSortedEndpointIDs(t *testing.T) {
	b := NewServiceBuilder("svc", "")
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "POST", Path: "/b"}))
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "GET", Path: "/b"}))
	require.NoError(t, b.AddEndpoint(ExposedEndpoint{Method: "GET", Path: "/a"}))

	ids := b.Build().SortedEndpointIDs()
	require.Len(t, ids, 3)
	assert.Equal(t, "svc GET /a", ids[0].String())
	assert.Equal(t, "svc GET /b", ids[1].String())
	assert.Equal(t, "svc POST /b", ids[2].String())
}

func TestExternalCall_Async(t *testing.T) {
	assert.True(t, ExternalCall{Kind: CommAsyncMessaging}.Async())
	assert.False(t, ExternalCall{Kind: CommSyncHTTP}.Async())
}

func TestExposedEndpoint_CallDepth(t *testing.T) {
	assert.Equal(t, 0, ExposedEndpoint{}.CallDepth())

	e := ExposedEndpoint{
		ClassName:   "BookController",
		HandlerName: "getBook",
		CallTree: map[string][]string{
			"BookController.getBook": {"BookService.find", "Audit.log"},
			"BookService.find":       {"BookRepository.load"},
			"BookRepository.load":    {"Db.query"},
			"Unrelated.deep":         {"a", "b"},
			"a":                      {"b"},
			"b":                      {"c"},
		},
	}
	assert.Equal(t, 3, e.CallDepth(), "measured from the handler")

	e.HandlerName = ""
	assert.Equal(t, 3, e.CallDepth(), "longest chain from any uncalled method")

	cyclic := ExposedEndpoint{CallTree: map[string][]string{"a": {"b"}, "b": {"a"}}}
	assert.Equal(t, 1, cyclic.CallDepth())
}
