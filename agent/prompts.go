package agent

import (
	"fmt"
	"strings"
	"time"
)

// isZh reports whether the locale selects Chinese output. Anything else
// falls back to English.
func isZh(locale string) bool {
	return strings.HasPrefix(strings.ToLower(locale), "zh")
}

const analystPromptEN = `You are a data analysis assistant. You answer questions about tabular
datasets by writing Python code and reading its execution output. Today is %s.

Guidelines:
- The datasets described earlier in this conversation are already loaded in
  the Python kernel under the variable names given there. Do not read the
  files again.
- Work with pandas. Chart with matplotlib and finish with plt.show() so the
  figure is captured.
- Base every number in your answer on executed output. If you have not
  inspected the data yet, inspect it first.
- Keep each snippet short and print what you need to see.
%s- Answer in English.
`

const analystPromptZH = `你是一名数据分析助手，通过编写 Python 代码并阅读其运行结果来回答关于表格数据的问题。今天是 %s。

要求：
- 此前对话中描述过的数据集已经加载到 Python 内核中，变量名见对应描述，不要重复读取文件。
- 使用 pandas 处理数据；绘图使用 matplotlib，并以 plt.show() 结束以便捕获图像。
- 答案中的每个数字都必须来自代码的执行结果，不要凭空猜测。
- 每段代码保持简短，并把需要查看的内容打印出来。
%s- 请用中文回答。
`

const (
	codeProtocolEN = "- To run code, reply with a single fenced code block starting with ```python. Its output will be returned to you before you give the final answer.\n"
	toolProtocolEN = "- To run code, call the execute_python tool with a complete, self-contained snippet.\n"
	codeProtocolZH = "- 需要运行代码时，回复一个以 ```python 开头的围栏代码块，其执行结果会在下一条消息中返回给你。\n"
	toolProtocolZH = "- 需要运行代码时，调用 execute_python 工具并传入完整、可独立运行的代码。\n"
)

// systemPrompt renders the analysis system message. columns is the
// retriever's formatted block and may be empty; nativeTools switches the
// code protocol line between tool calling and the fenced-block fallback.
func systemPrompt(locale string, date time.Time, nativeTools bool, columns string) string {
	day := date.Format("2006-01-02")

	var prompt string
	if isZh(locale) {
		protocol := codeProtocolZH
		if nativeTools {
			protocol = toolProtocolZH
		}
		prompt = fmt.Sprintf(analystPromptZH, day, protocol)
	} else {
		protocol := codeProtocolEN
		if nativeTools {
			protocol = toolProtocolEN
		}
		prompt = fmt.Sprintf(analystPromptEN, day, protocol)
	}

	if columns != "" {
		prompt += columns
	}
	return prompt
}

// normalizePrompt asks the normalizer model for cleanup code. rendered is
// the raw head of the sheet as aligned text; varName names the dataframe
// the snippet must reassign.
func normalizePrompt(filename, rendered, varName string) string {
	return fmt.Sprintf(`The first rows of the spreadsheet '%s' look structurally irregular: the real
header may sit below title rows, or cells may be merged.

%s

The sheet is already loaded in a Python kernel as the dataframe %s.
Write a snippet that cleans it: drop leading non-data rows, set the proper
header, and remove fully empty rows and columns. The snippet must reassign
the result to %s and must not read the file again. Reply with a single
fenced python code block and nothing else.`, filename, rendered, varName, varName)
}

// vlmInstruction is the per-image prompt for the chart summarizer.
func vlmInstruction(locale string) string {
	if isZh(locale) {
		return "请用两三句话描述这张图表的内容，包括主要趋势和值得注意的数值。"
	}
	return "Describe what this chart shows in two or three sentences, including the main trend and any standout values."
}

// refusalText is the assistant reply for input the guard rejected.
func refusalText(locale, categoryName string) string {
	if isZh(locale) {
		return fmt.Sprintf("抱歉，我不能协助这个请求，它被判定为涉及「%s」。", categoryName)
	}
	return fmt.Sprintf("Sorry, I can't help with this request; it was flagged as %s.", categoryName)
}

// descriptionText assembles the dataset description emitted after the
// file-reading pipeline.
func descriptionText(locale, filename, varName, note, structure, preview string, previewLines int) string {
	var b strings.Builder
	if isZh(locale) {
		fmt.Fprintf(&b, "数据集 `%s` 已加载到内核，变量名为 `%s`。\n\n", filename, varName)
		if note != "" {
			b.WriteString(note + "\n\n")
		}
		b.WriteString("列结构：\n\n" + fencedText(structure) + "\n\n")
		fmt.Fprintf(&b, "前 %d 行：\n\n%s", previewLines, fencedText(preview))
	} else {
		fmt.Fprintf(&b, "Dataset `%s` is loaded into the kernel as `%s`.\n\n", filename, varName)
		if note != "" {
			b.WriteString(note + "\n\n")
		}
		b.WriteString("Column structure:\n\n" + fencedText(structure) + "\n\n")
		fmt.Fprintf(&b, "First %d rows:\n\n%s", previewLines, fencedText(preview))
	}
	return b.String()
}

// normalizedNote is the description line recording that the sheet was
// cleaned before the summary was taken.
func normalizedNote(locale string) string {
	if isZh(locale) {
		return "表格结构不规整，已在生成以下摘要前进行规范化处理。"
	}
	return "The sheet looked irregular and was normalized before this summary was taken."
}

// readFailureText is the assistant reply when a dataset cannot be read.
func readFailureText(locale, filename, trace string) string {
	if isZh(locale) {
		return fmt.Sprintf("读取数据集 `%s` 失败：\n\n%s", filename, fencedText(trace))
	}
	return fmt.Sprintf("Failed to read dataset `%s`:\n\n%s", filename, fencedText(trace))
}

// unsupportedText is the assistant reply for a file type outside the
// supported set.
func unsupportedText(locale, filename string) string {
	if isZh(locale) {
		return fmt.Sprintf("无法读取 `%s`：不支持的文件类型。支持 csv、tsv 和 Excel 工作簿。", filename)
	}
	return fmt.Sprintf("Cannot read `%s`: unsupported file type. Supported formats are csv, tsv and Excel workbooks.", filename)
}

// toolNoOutput fills a tool message when an execution printed nothing.
func toolNoOutput(locale string) string {
	if isZh(locale) {
		return "（无输出）"
	}
	return "(no output)"
}

// chartLabel prefixes a VLM summary inside a tool message. n is the
// 1-based chart index and total the number of charts in the execution.
func chartLabel(locale string, n, total int) string {
	if isZh(locale) {
		if total > 1 {
			return fmt.Sprintf("图表 %d：", n)
		}
		return "图表："
	}
	if total > 1 {
		return fmt.Sprintf("Chart %d: ", n)
	}
	return "Chart: "
}

// fencedText wraps body in a text code fence.
func fencedText(body string) string {
	return "```text\n" + strings.TrimRight(body, "\n") + "\n```"
}
