package tools

import (
	"reflect"
	"testing"
)

func TestParseToolCallStrict(t *testing.T) {
	text := `I will create the document now.

<tool_call>
  <name>create_artifact</name>
  <params>
    <id><![CDATA[report]]></id>
    <content_type><![CDATA[markdown]]></content_type>
    <title><![CDATA[Quarterly Report]]></title>
    <content><![CDATA[# Report

Numbers & analysis go here.]]></content>
  </params>
</tool_call>`

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil, want call")
	}
	if call.Name != "create_artifact" {
		t.Fatalf("Name = %q, want create_artifact", call.Name)
	}
	if got := call.Params["id"]; got != "report" {
		t.Fatalf("id = %v, want report", got)
	}
	if got := call.Params["content"]; got != "# Report\n\nNumbers & analysis go here." {
		t.Fatalf("content = %q", got)
	}
	if call.Raw == "" || call.Raw[:11] != "<tool_call>" {
		t.Fatalf("Raw not captured: %q", call.Raw)
	}
}

func TestParseToolCallNone(t *testing.T) {
	for _, text := range []string{
		"",
		"Just a plain answer with no calls.",
		"An unclosed <tool_call><name>x</name>",
		"<tool_call><params><id>x</id></params></tool_call>",
		"<tool_call><name>  </name><params></params></tool_call>",
	} {
		if call := ParseToolCall(text); call != nil {
			t.Fatalf("ParseToolCall(%q) = %+v, want nil", text, call)
		}
	}
}

func TestParseToolCallFirstWins(t *testing.T) {
	text := `<tool_call><name>read_artifact</name><params><id>a</id></params></tool_call>
<tool_call><name>list_artifacts</name><params></params></tool_call>`

	call := ParseToolCall(text)
	if call == nil || call.Name != "read_artifact" {
		t.Fatalf("ParseToolCall() = %+v, want first call read_artifact", call)
	}
}

func TestParseToolCallSkipsNamelessBlock(t *testing.T) {
	text := `<tool_call><params><id>a</id></params></tool_call>
<tool_call><name>list_artifacts</name><params></params></tool_call>`

	call := ParseToolCall(text)
	if call == nil || call.Name != "list_artifacts" {
		t.Fatalf("ParseToolCall() = %+v, want list_artifacts", call)
	}
}

func TestParseToolCallCoercion(t *testing.T) {
	text := `<tool_call>
  <name>update_artifact</name>
  <params>
    <id>report</id>
    <expected_lock>3</expected_lock>
    <score>2.5</score>
    <dry_run>true</dry_run>
    <force>false</force>
    <offset>-7</offset>
    <note>version 12 pending</note>
  </params>
</tool_call>`

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil")
	}
	want := map[string]any{
		"id":            "report",
		"expected_lock": int64(3),
		"score":         2.5,
		"dry_run":       true,
		"force":         false,
		"offset":        int64(-7),
		"note":          "version 12 pending",
	}
	if !reflect.DeepEqual(call.Params, want) {
		t.Fatalf("Params = %#v, want %#v", call.Params, want)
	}
}

func TestParseToolCallListItems(t *testing.T) {
	text := `<tool_call>
  <name>clear_scratch</name>
  <params>
    <ids>
      <item><![CDATA[task_plan]]></item>
      <item>notes</item>
      <item>7</item>
    </ids>
  </params>
</tool_call>`

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil")
	}
	want := []any{"task_plan", "notes", int64(7)}
	if !reflect.DeepEqual(call.Params["ids"], want) {
		t.Fatalf("ids = %#v, want %#v", call.Params["ids"], want)
	}
}

func TestParseToolCallCDATAPreservesWhitespace(t *testing.T) {
	text := "<tool_call><name>update_artifact</name><params>" +
		"<old_str><![CDATA[    if x:\n        return]]></old_str>" +
		"<new_str><![CDATA[    if x is None:\n        return]]></new_str>" +
		"</params></tool_call>"

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil")
	}
	if got := call.Params["old_str"]; got != "    if x:\n        return" {
		t.Fatalf("old_str = %q, leading whitespace lost", got)
	}
}

func TestParseToolCallCDATAWithMarkupStaysScalar(t *testing.T) {
	text := `<tool_call><name>create_artifact</name><params>` +
		`<content><![CDATA[Use <item>one</item> tags in templates.]]></content>` +
		`</params></tool_call>`

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil")
	}
	if got := call.Params["content"]; got != "Use <item>one</item> tags in templates." {
		t.Fatalf("content = %q, want the literal markup", got)
	}
}

func TestParseToolCallLenientFallback(t *testing.T) {
	// Unescaped ampersand makes strict XML fail.
	text := `<tool_call>
  <name>create_artifact</name>
  <params>
    <id>q1</id>
    <title>P&L Summary</title>
    <expected_lock>2</expected_lock>
  </params>
</tool_call>`

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil, want lenient recovery")
	}
	if call.Name != "create_artifact" {
		t.Fatalf("Name = %q", call.Name)
	}
	if got := call.Params["title"]; got != "P&L Summary" {
		t.Fatalf("title = %q", got)
	}
	if got := call.Params["expected_lock"]; got != int64(2) {
		t.Fatalf("expected_lock = %v (%T)", got, got)
	}
}

func TestParseToolCallEntityDecoding(t *testing.T) {
	text := `<tool_call><name>create_artifact</name><params>` +
		`<content>a &lt; b &amp;&amp; b &gt; c</content>` +
		`</params></tool_call>`

	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil")
	}
	if got := call.Params["content"]; got != "a < b && b > c" {
		t.Fatalf("content = %q", got)
	}
}

func TestParseToolCallSubagent(t *testing.T) {
	text := `Delegating research.

<tool_call>
  <name>call_subagent</name>
  <params>
    <agent_name><![CDATA[researcher]]></agent_name>
    <instruction><![CDATA[Collect Q3 revenue figures and write them to the "data" artifact.]]></instruction>
  </params>
</tool_call>

I'll review the findings next.`

	call := ParseToolCall(text)
	if call == nil || call.Name != SubagentToolName {
		t.Fatalf("ParseToolCall() = %+v", call)
	}
	agent, instruction, err := SubagentRoute(call.Params)
	if err != nil {
		t.Fatalf("SubagentRoute() error = %v", err)
	}
	if agent != "researcher" || instruction == "" {
		t.Fatalf("SubagentRoute() = %q, %q", agent, instruction)
	}
}
