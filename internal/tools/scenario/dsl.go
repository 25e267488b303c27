package scenario

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

const scenarioTypeName = "scenario"

// Step kinds produced by the Lua bindings.
const (
	stepSubmit      = "submit"
	stepExpect      = "expect"
	stepExpectError = "expect_error"
	stepExpectTodos = "expect_todos"
)

// LoadScenarioFromFile runs a Lua script and returns the Scenario it builds.
// The script must return the Scenario value.
func LoadScenarioFromFile(path string) (*Scenario, error) {
	state := newLuaState()
	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	return runScenarioChunk(state, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// LoadScenario is LoadScenarioFromFile for an in-memory script. name is used
// when the script does not name its scenario.
func LoadScenario(name, source string) (*Scenario, error) {
	state := newLuaState()
	if err := lua.LoadBuffer(state, source, name, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	return runScenarioChunk(state, name)
}

func newLuaState() *lua.State {
	state := lua.NewState()
	lua.OpenLibraries(state)
	registerScenarioType(state)
	registerScenarioConstructor(state)
	return state
}

func runScenarioChunk(state *lua.State, fallbackName string) (*Scenario, error) {
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}
	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	scenario, ok := ud.(*Scenario)
	if !ok || scenario == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	if strings.TrimSpace(scenario.Name) == "" {
		scenario.Name = fallbackName
	}
	return scenario, nil
}

func registerScenarioType(state *lua.State) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerScenarioConstructor(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, scenarioConstructor, 0)
	state.SetGlobal("Scenario")
}

var scenarioConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scenarioNew},
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	state.PushUserData(&Scenario{Name: name})
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

var scenarioMethods = []lua.RegistryFunction{
	{Name: "submit", Function: scenarioSubmit},
	{Name: "add", Function: scenarioAdd},
	{Name: "complete", Function: scenarioComplete},
	{Name: "delete", Function: scenarioDelete},
	{Name: "clear_completed", Function: scenarioClearCompleted},
	{Name: "expect", Function: scenarioExpect},
	{Name: "expect_error", Function: scenarioExpectError},
	{Name: "expect_todos", Function: scenarioExpectTodos},
}

// scenarioSubmit records s:submit(type, payload).
func scenarioSubmit(state *lua.State) int {
	scenario := checkScenario(state)
	commandType := lua.CheckString(state, 2)
	appendStep(scenario, stepSubmit, map[string]any{
		"type":    commandType,
		"payload": optionalTable(state, 3),
	})
	return 0
}

func scenarioAdd(state *lua.State) int {
	scenario := checkScenario(state)
	text := lua.CheckString(state, 2)
	appendSubmit(scenario, "todo.add", map[string]any{"text": text})
	return 0
}

func scenarioComplete(state *lua.State) int {
	scenario := checkScenario(state)
	appendSubmit(scenario, "todo.complete", map[string]any{"todo_id": lua.CheckString(state, 2)})
	return 0
}

func scenarioDelete(state *lua.State) int {
	scenario := checkScenario(state)
	appendSubmit(scenario, "todo.delete", map[string]any{"todo_id": lua.CheckString(state, 2)})
	return 0
}

func scenarioClearCompleted(state *lua.State) int {
	scenario := checkScenario(state)
	appendSubmit(scenario, "todo.clear_completed", nil)
	return 0
}

// scenarioExpect records s:expect(events). events is a type name or a list of
// type names and tables with a type field plus payload fields to match.
func scenarioExpect(state *lua.State) int {
	scenario := checkScenario(state)
	var events []any
	switch state.TypeOf(2) {
	case lua.TypeString:
		name, _ := state.ToString(2)
		events = []any{name}
	case lua.TypeTable:
		events = listFromLua(state, 2)
	default:
		lua.ArgumentError(state, 2, "event type or list expected")
		return 0
	}
	appendStep(scenario, stepExpect, map[string]any{"events": events})
	return 0
}

func scenarioExpectError(state *lua.State) int {
	scenario := checkScenario(state)
	appendStep(scenario, stepExpectError, map[string]any{"code": lua.CheckString(state, 2)})
	return 0
}

func scenarioExpectTodos(state *lua.State) int {
	scenario := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	appendStep(scenario, stepExpectTodos, map[string]any{"todos": listFromLua(state, 2)})
	return 0
}

func checkScenario(state *lua.State) *Scenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if scenario, ok := ud.(*Scenario); ok && scenario != nil {
		return scenario
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func appendSubmit(scenario *Scenario, commandType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	appendStep(scenario, stepSubmit, map[string]any{"type": commandType, "payload": payload})
}

func appendStep(scenario *Scenario, kind string, data map[string]any) {
	if scenario == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	scenario.Steps = append(scenario.Steps, Step{Kind: kind, Args: data})
}

func optionalTable(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) || state.TypeOf(index) != lua.TypeTable {
		return map[string]any{}
	}
	return tableToMap(state, index)
}

// listFromLua reads a Lua sequence. An empty table is an empty list.
func listFromLua(state *lua.State, index int) []any {
	switch value := tableToGo(state, index).(type) {
	case []any:
		return value
	case map[string]any:
		if len(value) > 0 {
			lua.ArgumentError(state, index, "list expected")
		}
	}
	return []any{}
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

// tableToGo returns a []any for a 1-based sequence and a map otherwise.
func tableToGo(state *lua.State, index int) any {
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				maxIndex = max(maxIndex, idx)
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}
	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
