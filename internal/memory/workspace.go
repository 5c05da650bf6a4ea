package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// 工作区文件名 / workspace file names
const (
	soulFile   = "SOUL.md"
	userFile   = "USER.md"
	agentsFile = "AGENTS.md"
	memoryFile = "MEMORY.md"
	toolsFile  = "TOOLS.md"
	dailyDir   = "memory"
)

// Workspace 是 agent 的"家"：人格、长期记忆和日常笔记都以 Markdown 文件
// 的形式存在磁盘上。模型只"记得"写进文件的东西。
// Workspace is the agent's home: personality, long-term memory and daily
// notes live on disk as plain Markdown. The files ARE the memory.
type Workspace struct {
	root          string
	dailyLookback int // 读取最近几天的日记 / how many recent daily notes to load
}

// Open 打开（必要时创建）工作区并写入默认文件。
// Open creates the workspace layout and seeds default files when missing.
func Open(root string, dailyLookback int) (*Workspace, error) {
	if dailyLookback <= 0 {
		dailyLookback = 2
	}
	if err := os.MkdirAll(filepath.Join(root, dailyDir), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	w := &Workspace{root: root, dailyLookback: dailyLookback}

	defaults := map[string]string{
		soulFile:   defaultSoul,
		userFile:   defaultUser,
		agentsFile: defaultAgents,
	}
	for name, content := range defaults {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("seed %s: %w", name, err)
			}
		}
	}
	return w, nil
}

func (w *Workspace) Root() string {
	return w.root
}

func (w *Workspace) readFile(name string) string {
	data, err := os.ReadFile(filepath.Join(w.root, name))
	if err != nil {
		return ""
	}
	return string(data)
}

// DailyPath 返回某天日记文件的路径 / path of one daily note file
func (w *Workspace) DailyPath(day time.Time) string {
	return filepath.Join(w.root, dailyDir, day.Format("2006-01-02")+".md")
}

// AppendDaily 追加一条笔记到当天的日记文件。
// AppendDaily appends a note to today's daily file.
func (w *Workspace) AppendDaily(content string) error {
	path := w.DailyPath(time.Now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daily note: %w", err)
	}
	defer f.Close()
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	_, err = f.WriteString(content)
	return err
}

// WriteMemory 整体替换 MEMORY.md / replace MEMORY.md wholesale
func (w *Workspace) WriteMemory(content string) error {
	return os.WriteFile(filepath.Join(w.root, memoryFile), []byte(content), 0o644)
}

// BuildContext 构建注入 system prompt 的工作区上下文。群聊会话出于隐私
// 不加载 MEMORY.md。
// BuildContext assembles the workspace context for the system prompt.
// MEMORY.md is withheld outside main sessions for privacy.
func (w *Workspace) BuildContext(isMainSession bool) string {
	var sections []string

	for _, name := range []string{agentsFile, soulFile, userFile} {
		if content := w.readFile(name); content != "" {
			sections = append(sections, fmt.Sprintf("## %s\n%s", name, content))
		}
	}
	if isMainSession {
		if content := w.readFile(memoryFile); content != "" {
			sections = append(sections, fmt.Sprintf("## %s\n%s", memoryFile, content))
		}
	}
	if content := w.readFile(toolsFile); content != "" {
		sections = append(sections, fmt.Sprintf("## %s\n%s", toolsFile, content))
	}

	var daily []string
	now := time.Now()
	for i := 0; i < w.dailyLookback; i++ {
		day := now.AddDate(0, 0, -i)
		data, err := os.ReadFile(w.DailyPath(day))
		if err != nil {
			continue
		}
		daily = append(daily, fmt.Sprintf("### %s\n%s", day.Format("2006-01-02"), string(data)))
	}
	if len(daily) > 0 {
		sections = append(sections, "## Recent Notes\n"+strings.Join(daily, "\n\n"))
	}

	if len(sections) == 0 {
		return ""
	}
	return "# Workspace Context\n\n" + strings.Join(sections, "\n\n")
}

// SearchResult 记忆检索的一条命中 / one memory search hit
type SearchResult struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}

// Search 在 MEMORY.md 和全部日记里做关键词匹配，按命中词数排序。
// Search keyword-matches MEMORY.md and the daily notes, ranked by the
// number of query words that hit.
func (w *Workspace) Search(query string, maxResults int) []SearchResult {
	if maxResults <= 0 {
		maxResults = 5
	}
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}

	type target struct {
		path  string
		label string
	}
	targets := []target{{filepath.Join(w.root, memoryFile), memoryFile}}
	entries, _ := os.ReadDir(filepath.Join(w.root, dailyDir))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		targets = append(targets, target{
			path:  filepath.Join(w.root, dailyDir, e.Name()),
			label: dailyDir + "/" + e.Name(),
		})
	}

	var results []SearchResult
	for _, tgt := range targets {
		data, err := os.ReadFile(tgt.path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			lower := strings.ToLower(line)
			score := 0
			for _, word := range words {
				if strings.Contains(lower, word) {
					score++
				}
			}
			if score == 0 {
				continue
			}
			start := i - 1
			if start < 0 {
				start = 0
			}
			end := i + 2
			if end > len(lines) {
				end = len(lines)
			}
			snippet := strings.Join(lines[start:end], "\n")
			if len(snippet) > 500 {
				snippet = snippet[:500]
			}
			results = append(results, SearchResult{
				Path:    tgt.label,
				Line:    i + 1,
				Snippet: snippet,
				Score:   score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// Snippet 读取记忆文件的一段。只接受 MEMORY.md 和 memory/ 下的文件。
// Snippet reads a slice of a memory file; only MEMORY.md and files under
// memory/ are addressable.
func (w *Workspace) Snippet(path string, fromLine, lineCount int) (string, bool) {
	var full string
	switch {
	case path == memoryFile:
		full = filepath.Join(w.root, memoryFile)
	case strings.HasPrefix(path, dailyDir+"/") && !strings.Contains(path, ".."):
		full = filepath.Join(w.root, path)
	default:
		return "", false
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", false
	}
	lines := strings.Split(string(data), "\n")

	if fromLine < 1 {
		fromLine = 1
	}
	if lineCount <= 0 {
		lineCount = 20
	}
	start := fromLine - 1
	if start >= len(lines) {
		return "", true
	}
	end := start + lineCount
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n"), true
}
