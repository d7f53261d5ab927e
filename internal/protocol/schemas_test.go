package protocol_test

import (
	"testing"

	"gridtown.io/internal/protocol"
)

func TestValidatePayload_Samples(t *testing.T) {
	good := map[string]string{
		protocol.TagIdentify: `{"username":"fern","password":"hunter2"}`,
		protocol.TagMove:     `{"from":[5,5],"to":[6,5]}`,
		protocol.TagChat:     `{"text":"hello"}`,
		protocol.TagCommand:  `{"text":"tpa fern"}`,
		protocol.TagBag:      `{"create":{"name":"rock","type":3}}`,
		protocol.TagMail:     `{"send":{"to":["fern"],"subject":"hi","contents":"hello"}}`,
		protocol.TagTileset:  `{"id":12}`,
		protocol.TagImage:    `{"id":9}`,
		protocol.TagDelete:   `{"pos":[0,0,3,3],"turf":true,"obj":false}`,
		protocol.TagPut:      `{"pos":[3,4],"obj":false,"atom":"rock"}`,
		protocol.TagBulk:     `{"turf":[[0,0,"grass",4,4]],"obj":[]}`,
	}
	for tag, body := range good {
		if err := protocol.ValidatePayload(tag, []byte(body)); err != nil {
			t.Errorf("%s: unexpected reject: %v", tag, err)
		}
	}

	bad := map[string]string{
		protocol.TagMove:    `{"to":[6,5]}`,
		protocol.TagChat:    `{"text":5}`,
		protocol.TagBag:     `{"create":{"name":"rock","type":3},"delete":4}`,
		protocol.TagMail:    `{"send":{"to":[],"subject":"hi","contents":"x"}}`,
		protocol.TagDelete:  `{"pos":[0,0,3],"turf":true,"obj":false}`,
		protocol.TagPut:     `{"pos":[3,4]}`,
		protocol.TagBulk:    `{"turf":[[0,0]],"obj":[]}`,
		protocol.TagTileset: `{"id":"twelve"}`,
	}
	for tag, body := range bad {
		if err := protocol.ValidatePayload(tag, []byte(body)); err == nil {
			t.Errorf("%s: expected reject for %s", tag, body)
		}
	}
}

func TestValidatePayload_BodyRules(t *testing.T) {
	if err := protocol.ValidatePayload(protocol.TagPing, nil); err != nil {
		t.Fatalf("PIN without body: %v", err)
	}
	if err := protocol.ValidatePayload(protocol.TagIdentify, nil); err != nil {
		t.Fatalf("IDN without body is a guest login: %v", err)
	}
	if err := protocol.ValidatePayload(protocol.TagMove, nil); err == nil {
		t.Fatalf("MOV without body must be rejected")
	}
	if err := protocol.ValidatePayload("XYZ", []byte(`{}`)); err == nil {
		t.Fatalf("unknown tag must be rejected")
	}
}
