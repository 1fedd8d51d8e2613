package lang

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runScript(t *testing.T, src string) ([]string, error) {
	t.Helper()
	prog, err := Compile([]byte(src), "test.oak", nil)
	if err != nil {
		return nil, err
	}
	var out []string
	err = RunProgram(context.Background(), prog, RunOptions{
		Print: func(s string) { out = append(out, s) },
	})
	return out, err
}

func TestScenarioArithmeticAndPrint(t *testing.T) {
	out, err := runScript(t, `print 1 + 2 * 3`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "7" {
		t.Errorf("got %v, want [7]", out)
	}
}

func TestScenarioIfElse(t *testing.T) {
	out, err := runScript(t, `
x = 5
if x > 3 then
  print "big"
else
  print "small"
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "big" {
		t.Errorf("got %v", out)
	}
}

func TestScenarioWhileLoop(t *testing.T) {
	out, err := runScript(t, `
i = 0
while i < 3 do
  print i
  i += 1
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"0", "1", "2"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioForToStepDescending(t *testing.T) {
	out, err := runScript(t, `
for i = 5 to 1 step -2 do
  print i
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"5", "3", "1"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioForInRange(t *testing.T) {
	out, err := runScript(t, `
for i in 1..3 do
  print i
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"1", "2", "3"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioFunctionCallAndReturn(t *testing.T) {
	out, err := runScript(t, `
function square(n)
  return n * n
end

print square(6)
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "36" {
		t.Errorf("got %v", out)
	}
}

func TestScenarioRecursiveFactorial(t *testing.T) {
	out, err := runScript(t, `
function f(n)
  if n <= 1 then
    return 1
  else
    return n * f(n-1)
  end
end

print f(5)
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "120" {
		t.Errorf("got %v, want [120]", out)
	}
}

// TestScenarioRecursiveFactorialSurvivesContainerRoundTrip is spec.md's
// container-robustness scenario: a container compiled from the
// recursive-factorial script, written to disk, and re-loaded through
// DecodeContainer must run identically to the in-memory compile, the
// same path cmd/oakscript's `compile` followed by `runbytecode` takes.
func TestScenarioRecursiveFactorialSurvivesContainerRoundTrip(t *testing.T) {
	src := `
function f(n)
  if n <= 1 then
    return 1
  else
    return n * f(n-1)
  end
end

print f(5)
`
	prog, err := Compile([]byte(src), "factorial.oak", nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	path := filepath.Join(t.TempDir(), "factorial.oakc")
	if err := os.WriteFile(path, EncodeContainer(prog), 0644); err != nil {
		t.Fatalf("write container: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read container: %v", err)
	}
	loaded, err := DecodeContainer(raw)
	if err != nil {
		t.Fatalf("decode container: %v", err)
	}

	var out []string
	err = RunProgram(context.Background(), loaded, RunOptions{
		Print: func(s string) { out = append(out, s) },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "120" {
		t.Errorf("got %v, want [120]", out)
	}
}

func TestScenarioForwardFunctionReference(t *testing.T) {
	out, err := runScript(t, `
print callsForward(10)

function callsForward(n)
  return n + 1
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "11" {
		t.Errorf("got %v", out)
	}
}

func TestScenarioTryCatchThrow(t *testing.T) {
	out, err := runScript(t, `
try
  throw "boom"
catch e
  print "caught: " + e
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "caught: boom" {
		t.Errorf("got %v", out)
	}
}

func TestScenarioTryCatchFinallyRunsOnBothPaths(t *testing.T) {
	out, err := runScript(t, `
function attempt(fail)
  try
    if fail then
      throw "nope"
    end
    print "body"
  catch e
    print "caught"
  finally
    print "cleanup"
  end
end

attempt(false)
attempt(true)
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"body", "cleanup", "caught", "cleanup"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioUncaughtDivisionByZero(t *testing.T) {
	_, err := runScript(t, `print 1 / 0`)
	if err == nil {
		t.Fatal("expected a division-by-zero error, got nil")
	}
	rerr, ok := err.(*RuntimeError)
	if !ok || rerr.Kind != KindDivisionByZero {
		t.Errorf("got %v, want a DivisionByZero RuntimeError", err)
	}
}

func TestScenarioCaughtDivisionByZero(t *testing.T) {
	out, err := runScript(t, `
try
  print 1 / 0
catch e
  print "recovered"
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "recovered" {
		t.Errorf("got %v", out)
	}
}

func TestScenarioReturnInsideTryPopsHandler(t *testing.T) {
	out, err := runScript(t, `
function f(n)
  try
    return n
  catch e
    return -1
  end
end

print f(5)
print 1 / 0
`)
	if len(out) != 1 || out[0] != "5" {
		t.Fatalf("got %v, want [5]", out)
	}
	rerr, ok := err.(*RuntimeError)
	if !ok || rerr.Kind != KindDivisionByZero {
		t.Fatalf("got %v, want an uncaught DivisionByZero RuntimeError", err)
	}
}

func TestScenarioArraysDimAndIndex(t *testing.T) {
	out, err := runScript(t, `
dim scores[3]
scores[0] = 10
scores[1] = 20
scores[2] = scores[0] + scores[1]
print scores[2]
print len(scores)
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"30", "3"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioSwitchStatement(t *testing.T) {
	out, err := runScript(t, `
x = 2
switch x
case 1
  print "one"
case 2
  print "two"
default
  print "other"
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "two" {
		t.Errorf("got %v", out)
	}
}

func TestScenarioBreakAndContinue(t *testing.T) {
	out, err := runScript(t, `
i = 0
while i < 10 do
  i += 1
  if i % 2 == 0 then
    continue
  end
  if i > 5 then
    break
  end
  print i
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"1", "3", "5"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioShortCircuitAndOr(t *testing.T) {
	out, err := runScript(t, `
function sideEffect(tag)
  print tag
  return true
end

if false and sideEffect("should not run") then
  print "unreachable"
end

if true or sideEffect("should not run either") then
  print "reached"
end
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"reached"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestScenarioDeleteThenRedefine(t *testing.T) {
	out, err := runScript(t, `
x = 1
delete x
x = 2
print x
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0] != "2" {
		t.Errorf("got %v, want [2]", out)
	}
}

func TestScenarioDeleteThenLoadIsUndefinedName(t *testing.T) {
	_, err := runScript(t, `
x = 1
delete x
print x
`)
	rerr, ok := err.(*RuntimeError)
	if !ok || rerr.Kind != KindName {
		t.Fatalf("got %v, want an undefined-variable NameError", err)
	}
}

func TestScenarioDeleteConstIsNameError(t *testing.T) {
	_, err := runScript(t, `
const x = 1
delete x
`)
	rerr, ok := err.(*RuntimeError)
	if !ok || rerr.Kind != KindName {
		t.Fatalf("got %v, want a NameError for deleting a const", err)
	}
}

func TestDuplicateConstIsCompileTimeError(t *testing.T) {
	_, err := Compile([]byte("const x = 1\nconst x = 2\n"), "t.oak", nil)
	if err == nil {
		t.Fatal("expected a compile error for duplicate const, got nil")
	}
}

func TestBreakOutsideLoopIsCompileTimeError(t *testing.T) {
	_, err := Compile([]byte("break\n"), "t.oak", nil)
	if err == nil {
		t.Fatal("expected a compile error for break outside a loop, got nil")
	}
}

func TestReturnOutsideFunctionIsCompileTimeError(t *testing.T) {
	_, err := Compile([]byte("return 1\n"), "t.oak", nil)
	if err == nil {
		t.Fatal("expected a compile error for return outside a function, got nil")
	}
}

func TestUndefinedFunctionIsCompileTimeError(t *testing.T) {
	_, err := Compile([]byte("print mystery(1)\n"), "t.oak", nil)
	if err == nil {
		t.Fatal("expected a compile error for an undefined function, got nil")
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	src := []byte(`
function fib(n)
  if n < 2 then
    return n
  end
  return fib(n - 1) + fib(n - 2)
end
print fib(10)
`)
	p1, err := Compile(src, "t.oak", nil)
	if err != nil {
		t.Fatalf("compile 1: %v", err)
	}
	p2, err := Compile(src, "t.oak", nil)
	if err != nil {
		t.Fatalf("compile 2: %v", err)
	}
	if string(p1.Code) != string(p2.Code) {
		t.Error("identical source compiled to different code twice")
	}
}
