package classifier

import (
	"fmt"
	"strings"
)

// The upstream content is Chinese social-media text, so the prompts are
// written in Chinese to match it.

const keywordOptimizationPrompt = `你是一个小红书搜索关键词优化助手。用户想在小红书上搜索演唱会、音乐会等演出的转让票务信息。

请分析用户输入的关键词，理解用户意图，并优化为最适合在小红书上搜索票务转让信息的关键词。

优化规则：
1. 提取核心演出名称、艺人/乐队名称
2. 去除冗余词汇（如"的票"、"求票"、"有人转让吗"等）
3. 保留关键的时间、地点信息（如城市名）
4. 简洁明了，便于搜索

用户输入: %s

请直接返回优化后的关键词，不要有任何解释说明。如果原关键词已经很好，可以直接返回。

优化后的关键词:`

const ticketAnalysisPrompt = `你是一个票务信息分析助手。请分析以下小红书笔记内容，判断对方是否有销售演唱会门票的意向，并提取相关信息。

笔记内容：
%s

请按照以下JSON格式返回结果（只返回JSON，不要其他说明）：

{
    "is_ticket_resale": true/false,
    "event_name": "演出名称",
    "city": "城市",
    "event_date": "YYYY-MM-DD",
    "area": "座位区域",
    "price": "价格",
    "quantity": "数量",
    "contact": "联系方式",
    "notes": "其他备注"
}

判断规则：
1. 包含"转让"、"出"、"求"等关键词
2. 提到演出/演唱会名称
3. 包含价格信息
4. 如果不是票务转让信息，is_ticket_resale 设为 false，其他字段可为空字符串

请分析：`

func keywordPrompt(keyword string) string {
	return fmt.Sprintf(keywordOptimizationPrompt, strings.TrimSpace(keyword))
}

func analysisPrompt(content string) string {
	return fmt.Sprintf(ticketAnalysisPrompt, content)
}
